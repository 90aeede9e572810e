package scrape

import (
	"time"

	"github.com/flatwatch/flatwatch/internal/config"
	"github.com/flatwatch/flatwatch/internal/utils"
)

// Override asks the orchestrator to change tactics on the next attempt.
type Override string

const (
	OverrideNone            Override = ""
	OverrideReferral        Override = "referral"
	OverrideEnhancedStealth Override = "enhanced_stealth"
	OverrideLightweight     Override = "lightweight"
	OverrideExtendedTimeout Override = "extended_timeout"
	OverrideNewContext      Override = "new_context"
	OverrideMemoryOptimized Override = "memory_optimized"
)

// Decision is the planner's advice for one failure. It is advisory only;
// the orchestrator enforces its own attempt and wall-clock ceilings.
type Decision struct {
	Found    bool
	Retry    bool
	Delay    time.Duration
	Override Override
	Message  string
}

// Planner maps a classified error and the attempt number onto a retry
// decision. All delays come from configuration.
type Planner struct {
	cfg config.RecoveryConfig
}

func NewPlanner(cfg config.RecoveryConfig) *Planner {
	return &Planner{cfg: cfg}
}

func (p *Planner) Plan(ce ClassifiedError, attempt int) Decision {
	if !ce.Recoverable {
		return Decision{Found: true, Retry: false, Message: "terminal: " + string(ce.Kind)}
	}

	switch ce.Kind {
	case KindBotDetected:
		return p.planBotDetected(ce, attempt)
	case KindNetwork:
		return p.planNetwork(attempt)
	case KindTimeout:
		return p.planTimeout(attempt)
	case KindBrowser:
		return p.planBrowser(ce)
	case KindResourceLimit:
		return p.planResourceLimit(ce, attempt)
	case KindUnknown:
		return Decision{
			Found:   true,
			Retry:   true,
			Delay:   utils.ExpBackoff(p.ms(p.cfg.NetworkBaseMS), attempt, p.ms(p.cfg.NetworkMaxMS)),
			Message: "unknown error, generic backoff",
		}
	}
	return Decision{Found: false, Retry: false, Message: "no plan for " + string(ce.Kind)}
}

func (p *Planner) planBotDetected(ce ClassifiedError, attempt int) Decision {
	switch ce.Subkind {
	case SubkindCaptcha, SubkindChallenge:
		return Decision{
			Found:    true,
			Retry:    true,
			Delay:    p.ms(p.cfg.CaptchaDelayMS),
			Override: OverrideReferral,
			Message:  "captcha detected, retry via referral",
		}
	default:
		if attempt < 2 {
			return Decision{
				Found:    true,
				Retry:    true,
				Delay:    p.ms(p.cfg.HardBlockDelayMS),
				Override: OverrideEnhancedStealth,
				Message:  "hard block, one retry with enhanced stealth",
			}
		}
		return Decision{Found: true, Retry: false, Message: "hard block persists, giving up"}
	}
}

func (p *Planner) planNetwork(attempt int) Decision {
	if attempt >= 5 {
		return Decision{Found: true, Retry: false, Message: "network error attempts exhausted"}
	}
	delay := utils.ExpBackoff(p.ms(p.cfg.NetworkBaseMS), attempt, p.ms(p.cfg.NetworkMaxMS))
	return Decision{
		Found:   true,
		Retry:   true,
		Delay:   utils.Jitter(delay, 0.2),
		Message: "transient network error, exponential backoff",
	}
}

func (p *Planner) planTimeout(attempt int) Decision {
	switch {
	case attempt == 0:
		return Decision{
			Found:    true,
			Retry:    true,
			Delay:    p.ms(p.cfg.TimeoutShortMS),
			Override: OverrideLightweight,
			Message:  "timeout, retry with lightweight fetch",
		}
	case attempt <= 3:
		return Decision{
			Found:    true,
			Retry:    true,
			Delay:    p.ms(p.cfg.TimeoutExtendedMS),
			Override: OverrideExtendedTimeout,
			Message:  "timeout, retry with extended deadline",
		}
	default:
		return Decision{Found: true, Retry: false, Message: "timeout attempts exhausted"}
	}
}

func (p *Planner) planBrowser(ce ClassifiedError) Decision {
	if ce.Subkind == SubkindContext {
		return Decision{
			Found:    true,
			Retry:    true,
			Delay:    p.ms(p.cfg.BrowserContextMS),
			Override: OverrideNewContext,
			Message:  "browser context error, retry with a fresh context",
		}
	}
	return Decision{
		Found:   true,
		Retry:   true,
		Delay:   p.ms(p.cfg.BrowserCrashMS),
		Message: "browser crashed, retry",
	}
}

func (p *Planner) planResourceLimit(ce ClassifiedError, attempt int) Decision {
	switch ce.Subkind {
	case SubkindMemory:
		return Decision{
			Found:    true,
			Retry:    true,
			Delay:    p.ms(p.cfg.MemoryMS),
			Override: OverrideMemoryOptimized,
			Message:  "memory pressure, retry memory-optimized",
		}
	case SubkindPool:
		return Decision{
			Found:   true,
			Retry:   true,
			Delay:   p.ms(p.cfg.PoolExhaustedMS),
			Message: "browser pool exhausted, wait and retry",
		}
	case SubkindRateLimit:
		if attempt >= 3 {
			return Decision{Found: true, Retry: false, Message: "rate limited, attempts exhausted"}
		}
		return Decision{
			Found:   true,
			Retry:   true,
			Delay:   time.Duration(attempt+1) * p.ms(p.cfg.RateLimitUnitMS),
			Message: "rate limited, long cool-down",
		}
	default:
		return Decision{
			Found:   true,
			Retry:   true,
			Delay:   p.ms(p.cfg.CPUMS),
			Message: "resource pressure, short retry",
		}
	}
}

func (p *Planner) ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
