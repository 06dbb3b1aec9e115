// Package store persists profiles and controller settings in SQLite.
package store

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sweeney/reflow-controller/internal/logic"
)

var (
	// ErrNotFound is returned (wrapped) for an unknown profile or setting.
	ErrNotFound = errors.New("not found")

	// ErrProfileActive is returned when deleting the active profile.
	ErrProfileActive = errors.New("profile is active")
)

// Store is the profile and settings repository.
type Store struct {
	db     *gorm.DB
	logger logrus.FieldLogger
}

// Open opens (creating if needed) the database at path and migrates the
// schema. Use ":memory:" for a throwaway database.
func Open(path string, logger logrus.FieldLogger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get database handle: %w", err)
	}
	// One writer; also keeps an in-memory database alive across calls.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&profileRecord{}, &setting{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveProfile validates p and inserts or replaces it by name.
func (s *Store) SaveProfile(p logic.Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	rec := toRecord(p)
	err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save profile %q: %w", p.Name, err)
	}
	return nil
}

// Profile returns the named profile.
func (s *Store) Profile(name string) (logic.Profile, error) {
	var rec profileRecord
	err := s.db.Where("name = ?", name).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return logic.Profile{}, fmt.Errorf("profile %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return logic.Profile{}, fmt.Errorf("load profile %q: %w", name, err)
	}
	return rec.profile(), nil
}

// Profiles returns every stored profile ordered by name.
func (s *Store) Profiles() ([]logic.Profile, error) {
	var recs []profileRecord
	if err := s.db.Order("name").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	out := make([]logic.Profile, len(recs))
	for i, r := range recs {
		out[i] = r.profile()
	}
	return out, nil
}

// DeleteProfile removes the named profile. The active profile cannot be
// deleted.
func (s *Store) DeleteProfile(name string) error {
	active, err := s.get(keyActiveProfile)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if active == name {
		return fmt.Errorf("delete profile %q: %w", name, ErrProfileActive)
	}

	res := s.db.Where("name = ?", name).Delete(&profileRecord{})
	if res.Error != nil {
		return fmt.Errorf("delete profile %q: %w", name, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("profile %q: %w", name, ErrNotFound)
	}
	return nil
}

// ActiveProfile returns the profile selected for the next run.
func (s *Store) ActiveProfile() (logic.Profile, error) {
	name, err := s.get(keyActiveProfile)
	if err != nil {
		return logic.Profile{}, err
	}
	return s.Profile(name)
}

// SetActiveProfile selects an existing profile for the next run.
func (s *Store) SetActiveProfile(name string) error {
	if _, err := s.Profile(name); err != nil {
		return err
	}
	return s.set(s.db, keyActiveProfile, name)
}

// Tunings returns the stored PID gains.
func (s *Store) Tunings() (logic.Tunings, error) {
	var t logic.Tunings
	for _, f := range []struct {
		key string
		dst *float64
	}{
		{keyKp, &t.Kp},
		{keyKi, &t.Ki},
		{keyKd, &t.Kd},
	} {
		v, err := s.get(f.key)
		if err != nil {
			return logic.Tunings{}, err
		}
		if *f.dst, err = strconv.ParseFloat(v, 64); err != nil {
			return logic.Tunings{}, fmt.Errorf("setting %s: %w", f.key, err)
		}
	}
	return t, nil
}

// SaveTunings stores the PID gains atomically.
func (s *Store) SaveTunings(t logic.Tunings) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		for key, v := range map[string]float64{keyKp: t.Kp, keyKi: t.Ki, keyKd: t.Kd} {
			if err := s.set(tx, key, strconv.FormatFloat(v, 'g', -1, 64)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Seed fills an empty database: profiles are inserted when none exist, the
// first profile becomes active when none is, and tunings are stored when
// missing. Existing data is never overwritten.
func (s *Store) Seed(profiles []logic.Profile, tunings logic.Tunings) error {
	if len(profiles) == 0 {
		profiles = []logic.Profile{logic.DefaultProfile()}
	}

	var count int64
	if err := s.db.Model(&profileRecord{}).Count(&count).Error; err != nil {
		return fmt.Errorf("count profiles: %w", err)
	}
	if count == 0 {
		for _, p := range profiles {
			if err := s.SaveProfile(p); err != nil {
				return err
			}
		}
		s.logger.Infof("store: seeded %d profiles", len(profiles))
	}

	if _, err := s.ActiveProfile(); errors.Is(err, ErrNotFound) {
		all, err := s.Profiles()
		if err != nil {
			return err
		}
		if err := s.SetActiveProfile(all[0].Name); err != nil {
			return err
		}
		s.logger.Infof("store: active profile set to %q", all[0].Name)
	} else if err != nil {
		return err
	}

	if _, err := s.Tunings(); errors.Is(err, ErrNotFound) {
		if err := s.SaveTunings(tunings); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	return nil
}

func (s *Store) get(key string) (string, error) {
	var row setting
	err := s.db.Where(&setting{Key: key}).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("setting %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("load setting %s: %w", key, err)
	}
	return row.Value, nil
}

func (s *Store) set(db *gorm.DB, key, value string) error {
	row := setting{Key: key, Value: value}
	if err := db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("save setting %s: %w", key, err)
	}
	return nil
}
