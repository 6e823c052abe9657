package domain

import "time"

// well-known providers tracked by the quota manager
const (
	ProviderLLM    = "llm"
	ProviderTTS    = "tts"
	ProviderStock  = "stock"
	ProviderUpload = "upload"
)

// ProviderQuota is the daily usage counter of an external provider.
// Remaining is always Limit - Used, Exhausted is set when Remaining <= 0.
type ProviderQuota struct {
	Provider    string
	DailyLimit  int
	Used        int
	Remaining   int
	LastReset   time.Time
	NextReset   time.Time
	Exhausted   bool
	ExhaustedAt *time.Time
	AutoResume  bool
	Timezone    string // IANA zone of the provider's reset boundary
}
