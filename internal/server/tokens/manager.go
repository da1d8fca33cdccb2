// Package tokens owns the credential lifecycle of storage connections:
// sealed storage, proactive refresh and the transition to invalid.
//
// It is the only writer of storage_connections rows.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/cryptox"
	"github.com/dmitrijs2005/gophsync/internal/keylock"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/server/cache"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/dmitrijs2005/gophsync/internal/server/providers"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophsync/internal/timex"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// RefreshBuffer is how long before expiry a token is refreshed.
const RefreshBuffer = 5 * time.Minute

type Manager struct {
	repos     repomanager.RepositoryManager
	cipher    *cryptox.TokenCipher
	refresher Refresher
	cache     *cache.Cache
	clock     timex.Clock
	locks     *keylock.Locker
	log       logging.Logger
}

func NewManager(repos repomanager.RepositoryManager, cipher *cryptox.TokenCipher, refresher Refresher,
	c *cache.Cache, clock timex.Clock, log logging.Logger) *Manager {
	if clock == nil {
		clock = timex.RealClock{}
	}
	return &Manager{
		repos:     repos,
		cipher:    cipher,
		refresher: refresher,
		cache:     c,
		clock:     clock,
		locks:     keylock.New(),
		log:       log.With("module", "tokens"),
	}
}

// associated binds a sealed token to its owner, so a ciphertext copied to
// another row does not open.
func associated(userID string, kind providers.Kind) []byte {
	return []byte(userID + "|" + string(kind))
}

// Connect stores the credentials of a completed OAuth handshake, replacing
// any previous connection for (user, provider) and marking it active.
func (m *Manager) Connect(ctx context.Context, userID string, kind providers.Kind, tok *oauth2.Token) (*models.ConnectionSummary, error) {
	if userID == "" || tok == nil || tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: user and access token are required", common.ErrInvalidArgument)
	}
	aad := associated(userID, kind)
	access, err := m.cipher.Seal(tok.AccessToken, aad)
	if err != nil {
		return nil, err
	}
	refresh, err := m.cipher.Seal(tok.RefreshToken, aad)
	if err != nil {
		return nil, err
	}

	c, err := m.repos.Connections(m.repos.DB()).Upsert(ctx, &models.StorageConnection{
		ID:              uuid.NewString(),
		UserID:          userID,
		Provider:        string(kind),
		AccessTokenEnc:  access,
		RefreshTokenEnc: refresh,
		ExpiresAt:       tok.Expiry,
	})
	if err != nil {
		return nil, err
	}
	m.cache.InvalidateConnections(ctx, userID)
	m.log.Info(ctx, "provider connected", "user_id", userID, "provider", kind)

	s := c.Summary()
	return &s, nil
}

// ValidToken returns a usable access token for the connection, refreshing
// first when it expires within RefreshBuffer.
func (m *Manager) ValidToken(ctx context.Context, connectionID string) (string, error) {
	c, err := m.repos.Connections(m.repos.DB()).Get(ctx, connectionID)
	if err != nil {
		return "", err
	}
	return m.valid(ctx, c)
}

// ValidTokenFor is ValidToken addressed by (user, provider). A missing
// connection reports common.ErrReconnectRequired.
func (m *Manager) ValidTokenFor(ctx context.Context, userID string, kind providers.Kind) (string, error) {
	c, err := m.lookup(ctx, userID, kind)
	if err != nil {
		return "", err
	}
	return m.valid(ctx, c)
}

func (m *Manager) lookup(ctx context.Context, userID string, kind providers.Kind) (*models.StorageConnection, error) {
	c, err := m.repos.Connections(m.repos.DB()).GetByUserProvider(ctx, userID, string(kind))
	if errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("%w: %s is not connected", common.ErrReconnectRequired, kind)
	}
	return c, err
}

func (m *Manager) needsRefresh(c *models.StorageConnection) bool {
	return !c.ExpiresAt.IsZero() && c.ExpiresAt.Sub(m.clock.Now()) < RefreshBuffer
}

func (m *Manager) valid(ctx context.Context, c *models.StorageConnection) (string, error) {
	if c.Status != models.ConnectionActive {
		return "", common.ErrReconnectRequired
	}
	if !m.needsRefresh(c) {
		return m.open(c, c.AccessTokenEnc)
	}

	unlock, err := m.locks.Lock(ctx, c.ID)
	if err != nil {
		return "", err
	}
	defer unlock()

	// another caller may have refreshed while we waited
	c, err = m.repos.Connections(m.repos.DB()).Get(ctx, c.ID)
	if err != nil {
		return "", err
	}
	if c.Status != models.ConnectionActive {
		return "", common.ErrReconnectRequired
	}
	if !m.needsRefresh(c) {
		return m.open(c, c.AccessTokenEnc)
	}
	return m.refresh(ctx, c)
}

// ForceRefresh refreshes after a provider rejected the access token
// rejected. When another caller already replaced it, the newer token is
// returned without a second refresh.
func (m *Manager) ForceRefresh(ctx context.Context, userID string, kind providers.Kind, rejected string) (string, error) {
	c, err := m.lookup(ctx, userID, kind)
	if err != nil {
		return "", err
	}

	unlock, err := m.locks.Lock(ctx, c.ID)
	if err != nil {
		return "", err
	}
	defer unlock()

	c, err = m.repos.Connections(m.repos.DB()).Get(ctx, c.ID)
	if err != nil {
		return "", err
	}
	if c.Status != models.ConnectionActive {
		return "", common.ErrReconnectRequired
	}
	current, err := m.open(c, c.AccessTokenEnc)
	if err != nil {
		return "", err
	}
	if current != rejected {
		return current, nil
	}
	return m.refresh(ctx, c)
}

// refresh runs with the connection lock held.
func (m *Manager) refresh(ctx context.Context, c *models.StorageConnection) (string, error) {
	kind := providers.Kind(c.Provider)
	rt, err := m.open(c, c.RefreshTokenEnc)
	if err != nil {
		return "", err
	}
	if rt == "" {
		m.invalidate(ctx, c, "no refresh token")
		return "", common.ErrReconnectRequired
	}

	tok, err := m.refresher.Refresh(ctx, kind, rt)
	if err != nil {
		if errors.Is(err, ErrInvalidGrant) {
			m.invalidate(ctx, c, "refresh rejected: invalid_grant")
			return "", fmt.Errorf("%w: %s", common.ErrReconnectRequired, kind)
		}
		m.log.Warn(ctx, "token refresh failed", "user_id", c.UserID, "provider", kind, "error", err)
		return "", err
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = rt
	}

	aad := associated(c.UserID, kind)
	access, err := m.cipher.Seal(tok.AccessToken, aad)
	if err != nil {
		return "", err
	}
	refresh, err := m.cipher.Seal(tok.RefreshToken, aad)
	if err != nil {
		return "", err
	}
	err = m.repos.Connections(m.repos.DB()).UpdateTokens(ctx, c.ID, access, refresh, tok.Expiry)
	if errors.Is(err, common.ErrorNotFound) {
		return "", common.ErrReconnectRequired
	}
	if err != nil {
		return "", err
	}
	m.cache.InvalidateConnections(ctx, c.UserID)
	m.log.Debug(ctx, "token refreshed", "user_id", c.UserID, "provider", kind, "expires_at", tok.Expiry)
	return tok.AccessToken, nil
}

// Invalidate marks the connection invalid, e.g. after the user revoked
// access on the provider side.
func (m *Manager) Invalidate(ctx context.Context, userID string, kind providers.Kind, reason string) error {
	c, err := m.repos.Connections(m.repos.DB()).GetByUserProvider(ctx, userID, string(kind))
	if err != nil {
		return err
	}
	unlock, err := m.locks.Lock(ctx, c.ID)
	if err != nil {
		return err
	}
	defer unlock()
	return m.invalidate(ctx, c, reason)
}

func (m *Manager) invalidate(ctx context.Context, c *models.StorageConnection, reason string) error {
	if err := m.repos.Connections(m.repos.DB()).MarkInvalid(ctx, c.ID, reason); err != nil {
		m.log.Error(ctx, "mark connection invalid failed", "user_id", c.UserID, "provider", c.Provider, "error", err)
		return err
	}
	m.cache.InvalidateConnections(ctx, c.UserID)
	m.log.Warn(ctx, "connection invalidated", "user_id", c.UserID, "provider", c.Provider, "reason", reason)
	return nil
}

func (m *Manager) open(c *models.StorageConnection, sealed []byte) (string, error) {
	if len(sealed) == 0 {
		return "", nil
	}
	s, err := m.cipher.Open(sealed, associated(c.UserID, providers.Kind(c.Provider)))
	if err != nil {
		return "", fmt.Errorf("open token: %w", err)
	}
	return s, nil
}
