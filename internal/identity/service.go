// Package identity resolves authenticated session claims into a Principal:
// a tenant (owner) id and a distinct editor id. The two are kept separate so
// per-editor working state never collides with tenant-scoped records.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/interconnecthub/console/internal/auth"
)

// ErrInvalidClaims indicates the session claims did not contain usable identifiers.
var ErrInvalidClaims = errors.New("identity: invalid session claims")

// ServiceConfig describes the dependencies required for principal resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service manages canonical editor identifiers per tenant.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("identity: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock}, nil
}

// ResolvePrincipal returns the Principal for the provided session claims,
// creating the identity mapping when the provider+subject pair is new.
func (s *Service) ResolvePrincipal(claims auth.SessionClaims) (Principal, error) {
	provider, subject := deriveProviderSubject(claims.Subject)
	owner := normalize(claims.OwnerID)
	if subject == "" || owner == "" {
		return Principal{}, ErrInvalidClaims
	}

	cacheKey := owner + "/" + provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if principal, ok := cached.(Principal); ok {
			return principal, nil
		}
	}

	var record EditorIdentity
	err := s.db.
		Where("provider = ? AND subject = ?", provider, subject).
		First(&record).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		record = EditorIdentity{
			Provider:   provider,
			Subject:    subject,
			OwnerID:    owner,
			EditorID:   subject,
			LastSeenAt: s.now(),
		}
		if err := s.db.Create(&record).Error; err != nil {
			return Principal{}, err
		}
	} else if err != nil {
		return Principal{}, err
	} else {
		_ = s.db.Model(&EditorIdentity{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Update("last_seen_at", s.now()).
			Error
	}

	ownerID, err := NewOwnerID(record.OwnerID)
	if err != nil {
		return Principal{}, err
	}
	editorID, err := NewEditorID(record.EditorID)
	if err != nil {
		return Principal{}, err
	}

	principal := Principal{Owner: ownerID, Editor: editorID}
	s.cache.Store(cacheKey, principal)
	return principal, nil
}

func deriveProviderSubject(raw string) (string, string) {
	provider := "default"
	subject := normalize(raw)

	if strings.Contains(subject, ":") {
		segments := strings.SplitN(subject, ":", 2)
		if normalize(segments[0]) != "" && normalize(segments[1]) != "" {
			provider = normalize(segments[0])
			subject = normalize(segments[1])
		}
	}

	return provider, subject
}
