package monitor

import (
	"fmt"
	"strings"
	"time"

	"alphawatch/internal/domain/model"
)

const timeLayout = "2006-01-02 15:04:05"

// Formatter renders the plain-text notifications shared by every channel.
type Formatter struct {
	PortalURL string
}

func NewFormatter(portalURL string) *Formatter {
	return &Formatter{PortalURL: strings.TrimSpace(portalURL)}
}

// Summary 交易变化汇总
func (f *Formatter) Summary(events []model.TradeEvent) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Detected %d trade changes:\n", len(events))
	for _, ev := range events {
		sb.WriteString("\n• ")
		sb.WriteString(ev.Message())
	}
	if f.PortalURL != "" {
		sb.WriteString("\n\n🔗 All positions: ")
		sb.WriteString(f.PortalURL)
	}
	return sb.String()
}

func (f *Formatter) Startup(at time.Time, endpoint string, models []string, interval time.Duration) string {
	watched := "all models"
	if len(models) > 0 {
		watched = strings.Join(models, ", ")
	}
	return fmt.Sprintf("🚀 **AI trading monitor started**\n\n"+
		"⏰ Started at: %s\n"+
		"🔗 API: %s\n"+
		"👀 Models: %s\n\n"+
		"✅ Checking for position changes every %s",
		at.Format(timeLayout), endpoint, watched, interval)
}

func (f *Formatter) Shutdown(at time.Time) string {
	return fmt.Sprintf("🛑 **AI trading monitor stopped**\n\n⏰ Stopped at: %s\n\nShut down cleanly", at.Format(timeLayout))
}

func (f *Formatter) Error(at time.Time, err error) string {
	return fmt.Sprintf("❌ **AI trading monitor error**\n\n⏰ Time: %s\n🚨 Error: %v\n\nPlease check the service", at.Format(timeLayout), err)
}

func (f *Formatter) Test(at time.Time) string {
	return fmt.Sprintf("🧪 **AI trading monitor test**\n\n⏰ %s\n\n✅ Channel is working", at.Format(timeLayout))
}
