package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"guardian/internal/models"
	"guardian/internal/repositories/interfaces"
	"guardian/internal/utils"
	"guardian/pkg/logger"
	"guardian/pkg/metrics"
	"guardian/pkg/push"
	"guardian/pkg/sms"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"
)

const (
	ChannelInApp = utils.NotificationInApp
	ChannelPush  = utils.NotificationPush
	ChannelSMS   = utils.NotificationSMS
)

// DeliveryReport counts per-channel outcomes of one fan-out.
type DeliveryReport struct {
	mu     sync.Mutex
	Sent   map[string]int `json:"sent"`
	Failed map[string]int `json:"failed"`
}

func newDeliveryReport() *DeliveryReport {
	return &DeliveryReport{
		Sent:   make(map[string]int),
		Failed: make(map[string]int),
	}
}

func (r *DeliveryReport) record(channel string, n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.Failed[channel] += n
		return
	}
	r.Sent[channel] += n
}

func (r *DeliveryReport) SentCount(channel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Sent[channel]
}

func (r *DeliveryReport) FailedCount(channel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Failed[channel]
}

type WatcherNotifier interface {
	// ResolveWatchers returns the ids that resolve to a profile, in the order
	// they were given.
	ResolveWatchers(ctx context.Context, ids []primitive.ObjectID) ([]models.Watcher, error)
	NotifySessionStarted(ctx context.Context, session *models.TrackingSession) *DeliveryReport
	NotifySessionClosed(ctx context.Context, session *models.TrackingSession) *DeliveryReport
	NotifyCheckInReminder(ctx context.Context, session *models.TrackingSession, elapsed string) *DeliveryReport
	// NotifyEmergency tells every watcher. alert may be nil when it could not
	// be created.
	NotifyEmergency(ctx context.Context, session *models.TrackingSession, alert *models.Alert) *DeliveryReport
}

type outboundMessage struct {
	kind      models.NotificationType
	title     string
	body      string
	link      string
	data      map[string]interface{}
	urgent    bool
	smsBody   string
	inAppFunc func(recipient primitive.ObjectID) *models.Notification
}

type watcherNotifier struct {
	profiles      interfaces.ProfileRepository
	notifications NotificationService
	push          PushSender
	sms           sms.SMSProvider
	smsEnabled    bool
	smsFrom       string
	concurrency   int
	metrics       *metrics.Metrics
	logger        *logger.Logger
}

type WatcherNotifierConfig struct {
	SMSEnabled  bool
	SMSFrom     string
	Concurrency int
}

// NewWatcherNotifier wires the delivery channels. pushSender and smsProvider
// may be nil, which disables that channel.
func NewWatcherNotifier(
	profiles interfaces.ProfileRepository,
	notifications NotificationService,
	pushSender PushSender,
	smsProvider sms.SMSProvider,
	cfg WatcherNotifierConfig,
	m *metrics.Metrics,
	log *logger.Logger,
) WatcherNotifier {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &watcherNotifier{
		profiles:      profiles,
		notifications: notifications,
		push:          pushSender,
		sms:           smsProvider,
		smsEnabled:    cfg.SMSEnabled,
		smsFrom:       cfg.SMSFrom,
		concurrency:   cfg.Concurrency,
		metrics:       m,
		logger:        log,
	}
}

func (n *watcherNotifier) ResolveWatchers(ctx context.Context, ids []primitive.ObjectID) ([]models.Watcher, error) {
	profiles, err := n.lookup(ctx, ids)
	if err != nil {
		return nil, err
	}

	watchers := make([]models.Watcher, 0, len(profiles))
	for _, p := range profiles {
		watchers = append(watchers, p.AsWatcher())
	}
	return watchers, nil
}

// lookup returns profiles for ids in the given order, skipping unknown ids.
func (n *watcherNotifier) lookup(ctx context.Context, ids []primitive.ObjectID) ([]*models.Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	found, err := n.profiles.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve watchers: %w", err)
	}

	byID := make(map[primitive.ObjectID]*models.Profile, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}

	ordered := make([]*models.Profile, 0, len(found))
	for _, id := range utils.Unique(ids) {
		if p, ok := byID[id]; ok {
			ordered = append(ordered, p)
		}
	}
	return ordered, nil
}

func (n *watcherNotifier) ownerName(ctx context.Context, userID primitive.ObjectID) string {
	profile, err := n.profiles.GetByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, interfaces.ErrNotFound) {
			n.logger.WithError(err).WithUserID(userID).Warn("Failed to load session owner")
		}
		return "User"
	}
	return profile.Name()
}

func sessionLink(session *models.TrackingSession) string {
	return "/tracking/sessions/" + session.ID.Hex()
}

func sessionData(session *models.TrackingSession, kind string) map[string]interface{} {
	return map[string]interface{}{
		"sessionId": session.ID.Hex(),
		"kind":      kind,
	}
}

func (n *watcherNotifier) NotifySessionStarted(ctx context.Context, session *models.TrackingSession) *DeliveryReport {
	owner := n.ownerName(ctx, session.UserID)
	return n.deliverToWatchers(ctx, session, outboundMessage{
		kind:  models.NotificationTypeTrip,
		title: "Trip started",
		body:  fmt.Sprintf("%s started a trip to %s and asked you to watch", owner, session.DestinationName),
		link:  sessionLink(session),
		data:  sessionData(session, "trip_started"),
	})
}

func (n *watcherNotifier) NotifySessionClosed(ctx context.Context, session *models.TrackingSession) *DeliveryReport {
	owner := n.ownerName(ctx, session.UserID)
	msg := outboundMessage{
		kind: models.NotificationTypeTrip,
		link: sessionLink(session),
	}
	if session.Status == models.TrackingStatusCompleted {
		msg.title = "Arrived safely"
		msg.body = fmt.Sprintf("%s checked in at %s", owner, session.DestinationName)
		msg.data = sessionData(session, "trip_completed")
	} else {
		msg.title = "Trip ended"
		msg.body = fmt.Sprintf("%s ended their trip to %s", owner, session.DestinationName)
		msg.data = sessionData(session, "trip_cancelled")
	}
	return n.deliverToWatchers(ctx, session, msg)
}

// NotifyCheckInReminder prompts the owner and lets the watchers know a
// check-in is pending.
func (n *watcherNotifier) NotifyCheckInReminder(ctx context.Context, session *models.TrackingSession, elapsed string) *DeliveryReport {
	report := newDeliveryReport()

	ownerProfiles, err := n.lookup(ctx, []primitive.ObjectID{session.UserID})
	if err != nil {
		n.logger.WithError(err).WithSessionID(session.ID).Warn("Failed to load owner for reminder")
	}
	owner := "User"
	if len(ownerProfiles) == 1 {
		owner = ownerProfiles[0].Name()
	}

	n.deliver(ctx, ownerProfiles, outboundMessage{
		kind:  models.NotificationTypeCheckIn,
		title: "Time to check in",
		body:  fmt.Sprintf("You have been travelling for %s. Check in or trigger an emergency.", elapsed),
		link:  sessionLink(session),
		data:  sessionData(session, "check_in_reminder"),
	}, report)

	watchers, err := n.lookup(ctx, session.WatcherIDs)
	if err != nil {
		n.logger.WithError(err).WithSessionID(session.ID).Warn("Failed to load watchers for reminder")
		return report
	}
	n.deliver(ctx, watchers, outboundMessage{
		kind:  models.NotificationTypeCheckIn,
		title: "Check-in pending",
		body:  fmt.Sprintf("%s has not checked in yet (%s since departure)", owner, elapsed),
		link:  sessionLink(session),
		data:  sessionData(session, "check_in_pending"),
	}, report)

	return report
}

func (n *watcherNotifier) NotifyEmergency(ctx context.Context, session *models.TrackingSession, alert *models.Alert) *DeliveryReport {
	owner := n.ownerName(ctx, session.UserID)

	msg := outboundMessage{
		kind:    models.NotificationTypeAlert,
		title:   "Emergency",
		body:    fmt.Sprintf("%s triggered an emergency during a trip to %s", owner, session.DestinationName),
		link:    sessionLink(session),
		data:    sessionData(session, "trip_emergency"),
		urgent:  true,
		smsBody: emergencySMS(owner, session),
	}
	if alert != nil {
		msg.title = alert.AlertType.Title()
		msg.data["alertId"] = alert.ID.Hex()
		msg.inAppFunc = func(recipient primitive.ObjectID) *models.Notification {
			return BuildAlertNotification(alert, recipient)
		}
	}

	return n.deliverToWatchers(ctx, session, msg)
}

func emergencySMS(owner string, session *models.TrackingSession) string {
	var b strings.Builder
	fmt.Fprintf(&b, "EMERGENCY: %s triggered an emergency on a trip to %s.", owner, session.DestinationName)
	if loc := session.CurrentLocation; loc != nil {
		fmt.Fprintf(&b, " Last known location: https://maps.google.com/?q=%.6f,%.6f", loc.Latitude(), loc.Longitude())
	}
	return b.String()
}

func (n *watcherNotifier) deliverToWatchers(ctx context.Context, session *models.TrackingSession, msg outboundMessage) *DeliveryReport {
	report := newDeliveryReport()

	watchers, err := n.lookup(ctx, session.WatcherIDs)
	if err != nil {
		n.logger.WithError(err).WithSessionID(session.ID).Warn("Failed to load watchers")
		return report
	}

	n.deliver(ctx, watchers, msg, report)
	n.logger.LogTrackingEvent(session.ID, "watchers_notified", map[string]interface{}{
		"kind":       msg.data["kind"],
		"recipients": len(watchers),
		"sent":       report.Sent,
		"failed":     report.Failed,
	})
	return report
}

// deliver fans msg out to recipients over every channel. A failing channel
// never stops the others.
func (n *watcherNotifier) deliver(ctx context.Context, recipients []*models.Profile, msg outboundMessage, report *DeliveryReport) {
	if len(recipients) == 0 {
		return
	}

	inApp := make([]*models.Notification, 0, len(recipients))
	for _, r := range recipients {
		if msg.inAppFunc != nil {
			inApp = append(inApp, msg.inAppFunc(r.ID))
			continue
		}
		inApp = append(inApp, &models.Notification{
			UserID:  r.ID,
			Type:    msg.kind,
			Title:   msg.title,
			Message: msg.body,
			Data:    msg.data,
			Link:    msg.link,
		})
	}
	err := n.notifications.NotifyMany(ctx, inApp)
	n.count(report, ChannelInApp, len(inApp), err)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.concurrency)

	if n.push != nil {
		pushData := stringifyData(msg.data)
		for _, r := range recipients {
			for _, token := range r.DeviceTokens {
				token := token
				g.Go(func() error {
					req := &push.NotificationRequest{
						Token: token.Token,
						Title: msg.title,
						Body:  msg.body,
						Data:  pushData,
					}
					if msg.urgent {
						req.Priority = "high"
						req.Sound = "default"
						req.Category = "EMERGENCY"
					}
					_, err := n.push.Send(gctx, string(token.Platform), req)
					n.count(report, ChannelPush, 1, err)
					return nil
				})
			}
		}
	}

	if msg.urgent && msg.smsBody != "" && n.smsEnabled && n.sms != nil {
		for _, r := range recipients {
			if r.PhoneNumber == "" {
				continue
			}
			phone := r.PhoneNumber
			g.Go(func() error {
				_, err := n.sms.SendSMS(gctx, &sms.SMSRequest{
					To:      phone,
					From:    n.smsFrom,
					Message: msg.smsBody,
					Type:    "emergency",
				})
				if err != nil {
					n.logger.WithField("phone", utils.MaskPhone(phone)).Debug("Emergency SMS not delivered")
				}
				n.count(report, ChannelSMS, 1, err)
				return nil
			})
		}
	}

	_ = g.Wait()
}

func (n *watcherNotifier) count(report *DeliveryReport, channel string, recipients int, err error) {
	result := "sent"
	if err != nil {
		result = "failed"
		n.logger.WithError(err).WithField("channel", channel).Warn("Watcher delivery failed")
	}
	n.metrics.WatcherDeliveries.WithLabelValues(channel, result).Add(float64(recipients))
	report.record(channel, recipients, err)
}

func stringifyData(data map[string]interface{}) map[string]string {
	out := make(map[string]string, len(data))
	for k, v := range data {
		out[k] = fmt.Sprint(v)
	}
	return out
}
