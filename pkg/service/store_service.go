package service

import (
	"context"
	"time"

	"github.com/umputun/shortcast/pkg/domain"
	"github.com/umputun/shortcast/pkg/repository"
)

// StoreService provides unified access to repositories for the runtime components.
// Each consumer declares the narrow subset it needs as an interface.
type StoreService struct {
	repos *repository.Repositories
}

// NewStoreService creates a new store service
func NewStoreService(repos *repository.Repositories) *StoreService {
	return &StoreService{repos: repos}
}

// Store maintenance methods

func (s *StoreService) Ping(ctx context.Context) error { return s.repos.Ping(ctx) }

func (s *StoreService) Migrate(ctx context.Context) error { return s.repos.Migrate(ctx) }

func (s *StoreService) IntegrityCheck(ctx context.Context) error { return s.repos.IntegrityCheck(ctx) }

// Channel methods

func (s *StoreService) CreateChannel(ctx context.Context, ch *domain.Channel) error {
	return s.repos.Channel.CreateChannel(ctx, ch)
}

func (s *StoreService) GetChannel(ctx context.Context, id string) (*domain.Channel, error) {
	return s.repos.Channel.GetChannel(ctx, id)
}

func (s *StoreService) GetChannels(ctx context.Context, activeOnly bool) ([]*domain.Channel, error) {
	return s.repos.Channel.GetChannels(ctx, activeOnly)
}

func (s *StoreService) UpdateChannel(ctx context.Context, ch *domain.Channel) error {
	return s.repos.Channel.UpdateChannel(ctx, ch)
}

func (s *StoreService) UpdateChannelInterval(ctx context.Context, id string, minutes int) error {
	return s.repos.Channel.UpdateInterval(ctx, id, minutes)
}

func (s *StoreService) PauseChannel(ctx context.Context, id string, reason domain.PauseReason) error {
	return s.repos.Channel.Pause(ctx, id, reason)
}

func (s *StoreService) ResumeChannel(ctx context.Context, id string) error {
	return s.repos.Channel.Resume(ctx, id)
}

func (s *StoreService) ResumePausedChannels(ctx context.Context, reason domain.PauseReason) ([]string, error) {
	return s.repos.Channel.ResumePaused(ctx, reason)
}

func (s *StoreService) PauseChannelsByCredential(ctx context.Context, credentialID string, reason domain.PauseReason) ([]string, error) {
	return s.repos.Channel.PauseByCredential(ctx, credentialID, reason)
}

func (s *StoreService) SetChannelLastPublish(ctx context.Context, id string, at time.Time) error {
	return s.repos.Channel.SetLastPublish(ctx, id, at)
}

// Item methods

func (s *StoreService) CreateItem(ctx context.Context, item *domain.Item) error {
	return s.repos.Item.CreateItem(ctx, item)
}

func (s *StoreService) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	return s.repos.Item.GetItem(ctx, id)
}

func (s *StoreService) GetItems(ctx context.Context, filter domain.ItemFilter) ([]*domain.Item, error) {
	return s.repos.Item.GetItems(ctx, filter)
}

func (s *StoreService) GetReadyItem(ctx context.Context, channelID string) (*domain.Item, error) {
	return s.repos.Item.GetReadyItem(ctx, channelID)
}

func (s *StoreService) RecentTopics(ctx context.Context, channelID string, since time.Time) ([]string, error) {
	return s.repos.Item.RecentTopics(ctx, channelID, since)
}

func (s *StoreService) StartGeneration(ctx context.Context, id string) error {
	return s.repos.Item.StartGeneration(ctx, id)
}

func (s *StoreService) MarkItemReady(ctx context.Context, id string, upd repository.ReadyUpdate) error {
	return s.repos.Item.MarkReady(ctx, id, upd)
}

func (s *StoreService) StartPublishing(ctx context.Context, id string) error {
	return s.repos.Item.StartPublishing(ctx, id)
}

func (s *StoreService) MarkItemPublished(ctx context.Context, id, externalID string, at time.Time) error {
	return s.repos.Item.MarkPublished(ctx, id, externalID, at)
}

func (s *StoreService) MarkItemFailed(ctx context.Context, id string, cause domain.Category, msg string) error {
	return s.repos.Item.MarkFailed(ctx, id, cause, msg)
}

func (s *StoreService) RollbackItem(ctx context.Context, id string) error {
	return s.repos.Item.Rollback(ctx, id)
}

func (s *StoreService) RecoverInFlight(ctx context.Context, channelID string) (int64, error) {
	return s.repos.Item.RecoverInFlight(ctx, channelID)
}

func (s *StoreService) UpdateItemMetrics(ctx context.Context, id string, m domain.Metrics) error {
	return s.repos.Item.UpdateMetrics(ctx, id, m)
}

// Event methods

func (s *StoreService) AppendEvent(ctx context.Context, e *domain.Event) error {
	return s.repos.Event.AppendEvent(ctx, e)
}

func (s *StoreService) GetEvents(ctx context.Context, filter domain.EventFilter) ([]*domain.Event, error) {
	return s.repos.Event.GetEvents(ctx, filter)
}

func (s *StoreService) CountEventsByCategory(ctx context.Context, since time.Time, severities []domain.Severity) ([]domain.CategoryCount, error) {
	return s.repos.Event.CountByCategory(ctx, since, severities)
}

func (s *StoreService) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	return s.repos.Event.PruneEvents(ctx, before)
}

// Strategy methods

func (s *StoreService) SaveStrategy(ctx context.Context, st *domain.Strategy) error {
	return s.repos.Strategy.SaveStrategy(ctx, st)
}

func (s *StoreService) LatestStrategy(ctx context.Context, channelID string) (*domain.Strategy, error) {
	return s.repos.Strategy.LatestStrategy(ctx, channelID)
}

func (s *StoreService) GetStrategies(ctx context.Context, channelID string, limit int) ([]*domain.Strategy, error) {
	return s.repos.Strategy.GetStrategies(ctx, channelID, limit)
}

func (s *StoreService) MarkStrategyApplied(ctx context.Context, id int64) error {
	return s.repos.Strategy.MarkApplied(ctx, id)
}

// Quota methods

func (s *StoreService) EnsureQuota(ctx context.Context, q domain.ProviderQuota) error {
	return s.repos.Quota.EnsureQuota(ctx, q)
}

func (s *StoreService) GetQuota(ctx context.Context, provider string) (*domain.ProviderQuota, error) {
	return s.repos.Quota.GetQuota(ctx, provider)
}

func (s *StoreService) GetQuotas(ctx context.Context) ([]*domain.ProviderQuota, error) {
	return s.repos.Quota.GetQuotas(ctx)
}

func (s *StoreService) ChargeQuota(ctx context.Context, provider string, units int, at time.Time) (*domain.ProviderQuota, bool, error) {
	return s.repos.Quota.Charge(ctx, provider, units, at)
}

func (s *StoreService) MarkQuotaExhausted(ctx context.Context, provider string, at time.Time) (*domain.ProviderQuota, bool, error) {
	return s.repos.Quota.MarkExhausted(ctx, provider, at)
}

func (s *StoreService) ResetQuota(ctx context.Context, provider string, at, next time.Time) (bool, error) {
	return s.repos.Quota.Reset(ctx, provider, at, next)
}

// Trend methods

func (s *StoreService) UpsertTrend(ctx context.Context, t *domain.TrendCandidate) (bool, error) {
	return s.repos.Trend.UpsertTrend(ctx, t)
}

func (s *StoreService) GetTrend(ctx context.Context, id int64) (*domain.TrendCandidate, error) {
	return s.repos.Trend.GetTrend(ctx, id)
}

func (s *StoreService) GetTrends(ctx context.Context, filter domain.TrendFilter) ([]*domain.TrendCandidate, error) {
	return s.repos.Trend.GetTrends(ctx, filter)
}

func (s *StoreService) SaveTrendAnalysis(ctx context.Context, id int64, a repository.TrendAnalysis) error {
	return s.repos.Trend.SaveAnalysis(ctx, id, a)
}

func (s *StoreService) SetTrendFlag(ctx context.Context, id int64, flag domain.TrendFlag) error {
	return s.repos.Trend.SetFlag(ctx, id, flag)
}

func (s *StoreService) PruneTrends(ctx context.Context, before time.Time) (int64, error) {
	return s.repos.Trend.PruneTrends(ctx, before)
}

// Credential methods

func (s *StoreService) UpsertCredential(ctx context.Context, c *domain.Credential) error {
	return s.repos.Credential.UpsertCredential(ctx, c)
}

func (s *StoreService) GetCredential(ctx context.Context, id string) (*domain.Credential, error) {
	return s.repos.Credential.GetCredential(ctx, id)
}

func (s *StoreService) GetCredentials(ctx context.Context) ([]*domain.Credential, error) {
	return s.repos.Credential.GetCredentials(ctx)
}

func (s *StoreService) BeginCredentialRefresh(ctx context.Context, id string) (bool, error) {
	return s.repos.Credential.BeginRefresh(ctx, id)
}

func (s *StoreService) MarkCredentialRefreshed(ctx context.Context, id string, expiry, at time.Time) error {
	return s.repos.Credential.MarkRefreshed(ctx, id, expiry, at)
}

func (s *StoreService) SetCredentialState(ctx context.Context, id string, state domain.CredentialState, lastErr string) error {
	return s.repos.Credential.SetState(ctx, id, state, lastErr)
}

// Setting methods

func (s *StoreService) GetSetting(ctx context.Context, key string) (string, error) {
	return s.repos.Setting.GetSetting(ctx, key)
}

func (s *StoreService) SetSetting(ctx context.Context, key, value string) error {
	return s.repos.Setting.SetSetting(ctx, key, value)
}

func (s *StoreService) GetSettingTime(ctx context.Context, key string) (time.Time, error) {
	return s.repos.Setting.GetTime(ctx, key)
}

func (s *StoreService) SetSettingTime(ctx context.Context, key string, t time.Time) error {
	return s.repos.Setting.SetTime(ctx, key, t)
}
