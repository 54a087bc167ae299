package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/schedulo/access-control/internal/models"
)

// DB is the global database instance
var DB *gorm.DB

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	LogLevel string
}

// Connect establishes the database connection and runs migrations
func Connect(cfg Config) error {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	var gormLogger logger.Interface
	switch cfg.LogLevel {
	case "silent":
		gormLogger = logger.Default.LogMode(logger.Silent)
	case "error":
		gormLogger = logger.Default.LogMode(logger.Error)
	case "warn":
		gormLogger = logger.Default.LogMode(logger.Warn)
	default:
		gormLogger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	DB = db

	if err := AutoMigrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// AutoMigrate runs automatic migrations for all models
func AutoMigrate() error {
	return DB.AutoMigrate(
		&models.Tenant{},
		&models.User{},
		&models.Role{},
		&models.Permission{},
		&models.Session{},
		&models.Plan{},
		&models.Subscription{},
		&models.Service{},
		&models.Booking{},
		&models.AuditLog{},
	)
}

// Seed inserts the baseline plans, permissions, and roles if they are missing.
// Idempotent; safe to run on every startup.
func Seed() error {
	free := models.DefaultFreePlan()
	if err := DB.Where(models.Plan{Code: models.PlanCodeFree}).FirstOrCreate(&free).Error; err != nil {
		return fmt.Errorf("failed to seed FREE plan: %w", err)
	}
	pro := models.Plan{Code: models.PlanCodePro}
	if err := DB.Where(models.Plan{Code: models.PlanCodePro}).FirstOrCreate(&pro).Error; err != nil {
		return fmt.Errorf("failed to seed PRO plan: %w", err)
	}

	permNames := []string{
		models.PermManageBookings,
		models.PermManageServices,
		models.PermManageUsers,
		models.PermViewReports,
	}
	perms := make(map[string]models.Permission, len(permNames))
	for _, name := range permNames {
		p := models.Permission{Name: name}
		if err := DB.Where(models.Permission{Name: name}).FirstOrCreate(&p).Error; err != nil {
			return fmt.Errorf("failed to seed permission %s: %w", name, err)
		}
		perms[name] = p
	}

	roles := map[string][]string{
		models.RoleSuperAdmin:   permNames,
		models.RoleCompanyAdmin: permNames,
		models.RoleStaff:        {models.PermManageBookings},
	}
	for name, grants := range roles {
		role := models.Role{Name: name}
		if err := DB.Where(models.Role{Name: name}).FirstOrCreate(&role).Error; err != nil {
			return fmt.Errorf("failed to seed role %s: %w", name, err)
		}
		assigned := make([]models.Permission, 0, len(grants))
		for _, g := range grants {
			assigned = append(assigned, perms[g])
		}
		if err := DB.Model(&role).Association("Permissions").Replace(assigned); err != nil {
			return fmt.Errorf("failed to assign permissions to role %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection
func Close() error {
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
