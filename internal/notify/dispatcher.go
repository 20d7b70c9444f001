package notify

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"

	dbpkg "formsink/internal/db"
)

var notificationsTotal *prometheus.CounterVec

// InitPrometheusMetrics registers the fan-out counters. Call once at startup.
func InitPrometheusMetrics() {
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "formsink",
			Name:      "notifications_total",
			Help:      "Total notification and sync attempts by channel and outcome.",
		},
		[]string{"channel", "outcome"},
	)
	prometheus.MustRegister(notificationsTotal)
}

// SheetsSyncer is the sheets integration as seen by the dispatcher.
type SheetsSyncer interface {
	Sync(form *dbpkg.Form, sub *dbpkg.Submission) error
}

// Dispatcher fans a persisted submission out to the form's enabled
// channels. Dispatch returns immediately; every send runs on its own
// goroutine, and no channel's failure or latency can reach another
// channel or the ingestion response.
type Dispatcher struct {
	db  *gorm.DB
	log *zap.Logger

	email   *EmailSender
	slack   *SlackSender
	discord *DiscordSender
	sheets  SheetsSyncer

	wg sync.WaitGroup
}

func NewDispatcher(db *gorm.DB, log *zap.Logger, email *EmailSender, slack *SlackSender, discord *DiscordSender, sheets SheetsSyncer) *Dispatcher {
	return &Dispatcher{
		db:      db,
		log:     log,
		email:   email,
		slack:   slack,
		discord: discord,
		sheets:  sheets,
	}
}

// channelTarget is one enabled destination for a submission.
type channelTarget struct {
	channel string
	target  string
	send    func() error
}

// Dispatch schedules fan-out for a durably stored submission and
// returns without waiting on any provider.
func (d *Dispatcher) Dispatch(form *dbpkg.Form, sub *dbpkg.Submission) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for _, t := range d.targets(form, sub) {
			t := t
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				d.record(form, sub, t.channel, t.target, t.send())
			}()
		}
	}()
}

// Drain waits up to timeout for in-flight sends to finish. Used on
// shutdown; delivery stays best-effort, so timing out just abandons
// whatever is still running.
func (d *Dispatcher) Drain(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		d.log.Warn("abandoning in-flight notifications on shutdown")
	}
}

// targets builds the enabled-channel list for one form. Channels with
// missing connection state are skipped silently.
func (d *Dispatcher) targets(form *dbpkg.Form, sub *dbpkg.Submission) []channelTarget {
	var targets []channelTarget

	if form.EmailEnabled && d.email != nil && d.email.Configured() {
		for _, addr := range d.emailRecipients(form) {
			addr := addr
			targets = append(targets, channelTarget{
				channel: dbpkg.ChannelEmail,
				target:  addr,
				send:    func() error { return d.email.Send(addr, form, sub) },
			})
		}
	}

	if form.SlackEnabled && form.SlackWebhookURL != "" && d.slack != nil {
		target := form.SlackChannel
		if target == "" {
			target = "slack-webhook"
		}
		targets = append(targets, channelTarget{
			channel: dbpkg.ChannelSlack,
			target:  target,
			send:    func() error { return d.slack.Send(form, sub) },
		})
	}

	if form.DiscordEnabled && form.DiscordWebhookURL != "" && d.discord != nil {
		target := form.DiscordGuild
		if target == "" {
			target = "discord-webhook"
		}
		targets = append(targets, channelTarget{
			channel: dbpkg.ChannelDiscord,
			target:  target,
			send:    func() error { return d.discord.Send(form, sub) },
		})
	}

	if form.SheetsEnabled && form.SheetsSpreadsheetID != "" && d.sheets != nil {
		targets = append(targets, channelTarget{
			channel: dbpkg.ChannelSheets,
			target:  form.SheetsSpreadsheetID,
			send:    func() error { return d.sheets.Sync(form, sub) },
		})
	}

	return targets
}

// emailRecipients returns the owner's address plus every verified and
// enabled additional recipient, deduplicated.
func (d *Dispatcher) emailRecipients(form *dbpkg.Form) []string {
	seen := make(map[string]bool)
	var out []string

	var owner dbpkg.User
	if err := d.db.First(&owner, form.OwnerID).Error; err != nil {
		d.log.Warn("owner lookup failed for email fan-out",
			zap.Uint("form_id", form.ID), zap.Error(err))
	} else if owner.Email != "" {
		seen[owner.Email] = true
		out = append(out, owner.Email)
	}

	recs, err := dbpkg.VerifiedRecipients(d.db, form.ID)
	if err != nil {
		d.log.Warn("recipient lookup failed for email fan-out",
			zap.Uint("form_id", form.ID), zap.Error(err))
		return out
	}
	for _, r := range recs {
		if !seen[r.Address] {
			seen[r.Address] = true
			out = append(out, r.Address)
		}
	}
	return out
}

// record logs the attempt outcome and appends the audit event. Send
// errors terminate here; nothing propagates to the caller.
func (d *Dispatcher) record(form *dbpkg.Form, sub *dbpkg.Submission, channel, target string, sendErr error) {
	outcome := dbpkg.OutcomeDelivered
	if sendErr != nil {
		outcome = dbpkg.OutcomeFailed
		d.log.Warn("notification send failed",
			zap.String("channel", channel),
			zap.String("target", target),
			zap.String("submission_id", sub.ID),
			zap.Uint("form_id", form.ID),
			zap.Error(sendErr))
	}

	if notificationsTotal != nil {
		notificationsTotal.WithLabelValues(channel, outcome).Inc()
	}

	if err := dbpkg.RecordEvent(d.db, form.ID, sub.ID, channel, target, outcome); err != nil {
		d.log.Warn("event record failed",
			zap.String("channel", channel),
			zap.String("submission_id", sub.ID),
			zap.Error(err))
	}
}
