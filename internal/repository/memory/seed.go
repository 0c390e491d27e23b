package memory

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orbis-track/borrow-service/internal/domain"
)

// Seed is the fixture format for populating a store.
type Seed struct {
	Users []struct {
		ID           string `yaml:"id"`
		Name         string `yaml:"name"`
		Email        string `yaml:"email"`
		Role         string `yaml:"role"`
		DepartmentID string `yaml:"department"`
		SectionID    string `yaml:"section"`
		Inactive     bool   `yaml:"inactive"`
	} `yaml:"users"`
	Devices []struct {
		ID          string `yaml:"id"`
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
		Units       []struct {
			ID        string `yaml:"id"`
			AssetCode string `yaml:"asset_code"`
			Serial    string `yaml:"serial"`
			Status    string `yaml:"status"`
		} `yaml:"units"`
	} `yaml:"devices"`
}

// LoadSeedFile reads a YAML fixture and applies it.
func (s *Store) LoadSeedFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed: %w", err)
	}
	return s.LoadSeed(raw)
}

// LoadSeed applies a YAML fixture. Units default to READY.
func (s *Store) LoadSeed(raw []byte) error {
	var seed Seed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("parse seed: %w", err)
	}
	now := s.now()

	for _, u := range seed.Users {
		role := domain.UserRole(u.Role)
		switch role {
		case domain.UserRoleEmployee, domain.UserRoleStaff, domain.UserRoleHOS, domain.UserRoleHOD, domain.UserRoleAdmin:
		default:
			return fmt.Errorf("user %s: unknown role %q", u.ID, u.Role)
		}
		s.PutUser(domain.User{
			ID:           u.ID,
			Name:         u.Name,
			Email:        u.Email,
			Role:         role,
			DepartmentID: optional(u.DepartmentID),
			SectionID:    optional(u.SectionID),
			Active:       !u.Inactive,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}
	for _, d := range seed.Devices {
		s.PutDevice(domain.Device{ID: d.ID, Name: d.Name, Description: d.Description, CreatedAt: now})
		for _, unit := range d.Units {
			status := domain.ChildStatus(unit.Status)
			if status == "" {
				status = domain.ChildStatusReady
			}
			if !status.Valid() {
				return fmt.Errorf("unit %s: unknown status %q", unit.ID, unit.Status)
			}
			s.PutChild(domain.DeviceChild{
				ID:            unit.ID,
				DeviceID:      d.ID,
				AssetCode:     unit.AssetCode,
				Serial:        optional(unit.Serial),
				CurrentStatus: status,
				UpdatedAt:     now,
			})
		}
	}
	return nil
}

// SetClock replaces the clock used for timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
