package schedule

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"fleetguard/internal/cache"
	"fleetguard/internal/config"
	"fleetguard/internal/geo"
	"fleetguard/internal/model"
	"fleetguard/internal/notification"
	"fleetguard/internal/stats"
	"fleetguard/internal/storage"
)

const (
	keySummaryDate       = "dailySummaryPush.date"
	keySummaryStatus     = "dailySummaryPush.status"
	keySummaryNextAt     = "dailySummaryPush.nextAt"
	keySummaryRetryCount = "dailySummaryPush.retryCount"
	keySummarySentAt     = "dailySummaryPush.sentAt"
	keySummaryLastError  = "dailySummaryPush.lastError"
	keySummaryWhatsapp   = "dailySummaryPush.whatsappStatus"

	statusPending      = "pending"
	statusSent         = "sent"
	statusRetryPending = "retry_pending"
	statusNoMovement   = "skipped_no_movement"
	statusLateOrNoData = "skipped_late_or_no_data"
	statusPushFailed   = "skipped_push_failed"

	summaryPushType = "DAILY_SUMMARY_PUSH"

	quietStartMin   = 7 * 60
	quietEndMin     = 21 * 60
	windowStartMin  = 7*60 + 20
	firstAttemptMin = 7*60 + 30
	cutoffMin       = 10 * 60

	stopSpeedKnots  = 0.539957
	longStopMin     = 15 * time.Minute
	noDataRecheck   = 15 * time.Minute
	maxPushRetries  = 3
	defaultTimezone = "America/Sao_Paulo"

	minMovementKm      = 1.0
	minMovementSeconds = 600
)

var pushRetryDelays = [maxPushRetries]time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}

// MessageSender delivers an already-built message to one user.
type MessageSender interface {
	SendMessage(ctx context.Context, user *model.User, message notification.Message) error
}

type SummaryTask struct {
	cfg    atomic.Value
	logger *slog.Logger
	store  storage.Store
	cache  *cache.Cache
	push   MessageSender
	stats  *stats.Store
	client *http.Client
}

func NewSummaryTask(cfg *config.Config, logger *slog.Logger, store storage.Store, cacheStore *cache.Cache, push MessageSender, statsStore *stats.Store) *SummaryTask {
	t := &SummaryTask{
		logger: logger,
		store:  store,
		cache:  cacheStore,
		push:   push,
		stats:  statsStore,
		client: &http.Client{Timeout: 15 * time.Second},
	}
	if cfg != nil {
		t.cfg.Store(cfg)
	}
	return t
}

func (t *SummaryTask) UpdateConfig(cfg *config.Config) {
	if cfg != nil {
		t.cfg.Store(cfg)
	}
}

func (t *SummaryTask) config() *config.Config {
	if cfg, ok := t.cfg.Load().(*config.Config); ok {
		return cfg
	}
	return config.DefaultConfig()
}

func (t *SummaryTask) Run(ctx context.Context) {
	t.runAt(ctx, time.Now().UTC())
}

func (t *SummaryTask) runAt(ctx context.Context, now time.Time) {
	cfg := t.config()
	if !cfg.Summary.Enabled || t.store == nil || t.push == nil {
		return
	}
	if t.stats != nil {
		t.stats.Inc(stats.SummaryRuns)
	}
	users, err := t.store.ListUsers(ctx)
	if err != nil {
		if t.logger != nil {
			t.logger.Warn("summary user listing failed", "err", err)
		}
		return
	}
	for i := range users {
		user := &users[i]
		if user.Disabled || user.Temporary {
			continue
		}
		if len(model.SplitCSV(user.Attributes.StringOr("notificationTokens", ""))) == 0 {
			continue
		}
		t.processUser(ctx, cfg, user, now)
	}
}

type summaryState struct {
	Date           string
	Status         string
	NextAt         time.Time
	RetryCount     int64
	SentAt         time.Time
	LastError      string
	WhatsappStatus string
}

func readSummaryState(attrs model.Attributes) summaryState {
	var s summaryState
	s.Date = attrs.StringOr(keySummaryDate, "")
	s.Status = attrs.StringOr(keySummaryStatus, "")
	if ms, ok := attrs.Int(keySummaryNextAt); ok && ms > 0 {
		s.NextAt = time.UnixMilli(ms).UTC()
	}
	s.RetryCount, _ = attrs.Int(keySummaryRetryCount)
	if s.RetryCount < 0 {
		s.RetryCount = 0
	}
	if ms, ok := attrs.Int(keySummarySentAt); ok && ms > 0 {
		s.SentAt = time.UnixMilli(ms).UTC()
	}
	s.LastError = attrs.StringOr(keySummaryLastError, "")
	s.WhatsappStatus = attrs.StringOr(keySummaryWhatsapp, "")
	return s
}

func writeSummaryState(attrs model.Attributes, s summaryState) {
	attrs[keySummaryDate] = s.Date
	attrs[keySummaryStatus] = s.Status
	if s.NextAt.IsZero() {
		delete(attrs, keySummaryNextAt)
	} else {
		attrs[keySummaryNextAt] = s.NextAt.UnixMilli()
	}
	if s.RetryCount == 0 {
		delete(attrs, keySummaryRetryCount)
	} else {
		attrs[keySummaryRetryCount] = s.RetryCount
	}
	if s.SentAt.IsZero() {
		delete(attrs, keySummarySentAt)
	} else {
		attrs[keySummarySentAt] = s.SentAt.UnixMilli()
	}
	if s.LastError == "" {
		delete(attrs, keySummaryLastError)
	} else {
		attrs[keySummaryLastError] = s.LastError
	}
	if s.WhatsappStatus == "" {
		delete(attrs, keySummaryWhatsapp)
	} else {
		attrs[keySummaryWhatsapp] = s.WhatsappStatus
	}
}

func (t *SummaryTask) processUser(ctx context.Context, cfg *config.Config, user *model.User, now time.Time) {
	zone := t.userLocation(user, cfg)
	local := now.In(zone)
	minutes := local.Hour()*60 + local.Minute()
	if minutes < quietStartMin || minutes >= quietEndMin {
		return
	}
	reportDate := local.AddDate(0, 0, -1).Format("2006-01-02")

	if user.Attributes == nil {
		user.Attributes = model.Attributes{}
	}
	state := readSummaryState(user.Attributes)
	if state.Date != reportDate {
		state = summaryState{
			Date:   reportDate,
			Status: statusPending,
			NextAt: clockOnDay(local, firstAttemptMin),
		}
		t.persistState(ctx, user, state)
	}
	switch state.Status {
	case statusPending, statusRetryPending:
	default:
		return
	}
	if minutes < windowStartMin {
		return
	}
	if minutes >= cutoffMin {
		state.Status = statusLateOrNoData
		state.NextAt = time.Time{}
		t.persistState(ctx, user, state)
		return
	}
	if !state.NextAt.IsZero() && now.Before(state.NextAt) {
		return
	}

	report, err := t.buildReport(ctx, user, local)
	if err != nil {
		if t.logger != nil {
			t.logger.Warn("summary aggregation failed", "err", err, "user_id", user.ID)
		}
		return
	}
	if report == nil {
		state.NextAt = now.Add(noDataRecheck)
		t.persistState(ctx, user, state)
		return
	}
	if report.TotalDistanceKm < minMovementKm && report.TotalMovingSeconds < minMovementSeconds {
		state.Status = statusNoMovement
		state.NextAt = time.Time{}
		t.persistState(ctx, user, state)
		return
	}

	message := buildSummaryMessage(report)
	if err := t.push.SendMessage(ctx, user, message); err != nil {
		if state.RetryCount >= maxPushRetries {
			state.Status = statusPushFailed
			state.LastError = "push_failed"
			state.NextAt = time.Time{}
		} else {
			state.NextAt = now.Add(pushRetryDelays[state.RetryCount])
			state.RetryCount++
			state.Status = statusRetryPending
			state.LastError = "push_retry"
		}
		if t.logger != nil {
			t.logger.Warn("summary push failed", "err", err, "user_id", user.ID, "retries", state.RetryCount)
		}
	} else {
		state.Status = statusSent
		state.SentAt = now
		state.NextAt = time.Time{}
		state.LastError = ""
		if t.logger != nil {
			t.logger.Info("summary push sent", "user_id", user.ID, "date", report.Date)
		}
	}
	t.persistState(ctx, user, state)

	if cfg.Summary.WebhookURL != "" && state.WhatsappStatus != "sent" {
		go t.postWebhook(context.Background(), cfg.Summary, user, report)
	}
}

func (t *SummaryTask) userLocation(user *model.User, cfg *config.Config) *time.Location {
	if name, ok := user.Attributes.String("timezone"); ok && name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	if cfg.Summary.ServerTimezone != "" {
		if loc, err := time.LoadLocation(cfg.Summary.ServerTimezone); err == nil {
			return loc
		}
	}
	if loc, err := time.LoadLocation(defaultTimezone); err == nil {
		return loc
	}
	return time.UTC
}

func clockOnDay(local time.Time, minutes int) time.Time {
	return time.Date(local.Year(), local.Month(), local.Day(),
		minutes/60, minutes%60, 0, 0, local.Location()).UTC()
}

func (t *SummaryTask) persistState(ctx context.Context, user *model.User, state summaryState) {
	writeSummaryState(user.Attributes, state)
	if err := t.store.UpdateUserAttributes(ctx, user.ID, user.Attributes); err != nil {
		if t.logger != nil {
			t.logger.Warn("summary state persist failed", "err", err, "user_id", user.ID)
		}
		return
	}
	if t.cache != nil {
		t.cache.PutUser(user)
	}
}

type deviceReport struct {
	DeviceID       int64
	Name           string
	DistanceKm     float64
	MovingSeconds  int64
	MaxSpeedKph    int64
	Geofences      int64
	LongStops      int
	PrevDistanceKm float64
}

type summaryReport struct {
	Date               string
	Devices            []deviceReport
	TotalDistanceKm    float64
	TotalMovingSeconds int64
	TotalGeofences     int64
	TotalLongStops     int
	MaxSpeedKph        int64
	PrevDistanceKm     float64
}

func (t *SummaryTask) buildReport(ctx context.Context, user *model.User, local time.Time) (*summaryReport, error) {
	devices, err := t.store.UserDevices(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	yesterday := local.AddDate(0, 0, -1)
	dayStart := time.Date(yesterday.Year(), yesterday.Month(), yesterday.Day(), 0, 0, 0, 0, local.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)
	prevStart := dayStart.AddDate(0, 0, -1)

	report := &summaryReport{Date: yesterday.Format("2006-01-02")}
	for _, device := range devices {
		positions, err := t.store.Positions(ctx, device.ID, dayStart, dayEnd)
		if err != nil {
			return nil, err
		}
		if len(positions) == 0 {
			continue
		}
		dr := aggregatePositions(positions)
		dr.DeviceID = device.ID
		dr.Name = device.Name
		if enters, exits, err := t.store.GeofenceEventCounts(ctx, device.ID, dayStart, dayEnd); err == nil {
			dr.Geofences = enters + exits
		}
		if prev, err := t.store.Positions(ctx, device.ID, prevStart, dayStart); err == nil && len(prev) > 0 {
			dr.PrevDistanceKm = aggregatePositions(prev).DistanceKm
		}
		report.Devices = append(report.Devices, dr)
		report.TotalDistanceKm += dr.DistanceKm
		report.TotalMovingSeconds += dr.MovingSeconds
		report.TotalGeofences += dr.Geofences
		report.TotalLongStops += dr.LongStops
		report.PrevDistanceKm += dr.PrevDistanceKm
		if dr.MaxSpeedKph > report.MaxSpeedKph {
			report.MaxSpeedKph = dr.MaxSpeedKph
		}
	}
	if len(report.Devices) == 0 {
		return nil, nil
	}
	sort.SliceStable(report.Devices, func(i, j int) bool {
		a, b := report.Devices[i], report.Devices[j]
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm > b.DistanceKm
		}
		if a.MovingSeconds != b.MovingSeconds {
			return a.MovingSeconds > b.MovingSeconds
		}
		return a.Name < b.Name
	})
	return report, nil
}

func aggregatePositions(positions []model.Position) deviceReport {
	var dr deviceReport
	var maxKph float64
	var moving time.Duration
	for i := range positions {
		if kph := geo.KphFromKnots(positions[i].Speed); finite(kph) && kph > maxKph {
			maxKph = kph
		}
		if i == 0 {
			continue
		}
		prev := positions[i-1]
		curr := positions[i]
		if prev.Speed > stopSpeedKnots {
			if gap := curr.FixTime.Sub(prev.FixTime); gap > 0 {
				dr.DistanceKm += geo.DistanceMeters(prev.Latitude, prev.Longitude, curr.Latitude, curr.Longitude) / 1000
				moving += gap
			}
		}
	}
	dr.MovingSeconds = int64(moving.Seconds())
	dr.MaxSpeedKph = int64(math.Round(maxKph))
	dr.LongStops = countLongStops(positions, longStopMin)
	return dr
}

func countLongStops(positions []model.Position, minDuration time.Duration) int {
	var count int
	var stopStart time.Time
	stopped := false
	for _, p := range positions {
		if p.Speed > stopSpeedKnots {
			if stopped && p.FixTime.Sub(stopStart) >= minDuration {
				count++
			}
			stopped = false
			continue
		}
		if !stopped {
			stopped = true
			stopStart = p.FixTime
		}
	}
	if stopped && len(positions) > 0 {
		if positions[len(positions)-1].FixTime.Sub(stopStart) >= minDuration {
			count++
		}
	}
	return count
}

func buildSummaryMessage(report *summaryReport) notification.Message {
	title := "Resumo de ontem"
	if len(report.Devices) == 1 {
		title += " • " + truncateRunes(report.Devices[0].Name, 24)
	}

	segments := []string{
		fmt.Sprintf("🛣️ %s km", formatKmPtBR(report.TotalDistanceKm)),
		"⏱️ " + formatMotion(report.TotalMovingSeconds),
		fmt.Sprintf("📍 %d", report.TotalGeofences),
		fmt.Sprintf("🏎️ %.0f km/h", averageSpeedKph(report.TotalDistanceKm, report.TotalMovingSeconds)),
		fmt.Sprintf("🚀 %d km/h", report.MaxSpeedKph),
	}
	if report.PrevDistanceKm > 0 {
		pct := (report.TotalDistanceKm - report.PrevDistanceKm) / report.PrevDistanceKm * 100
		segments = append(segments, fmt.Sprintf("📊 %+.0f%% km", pct))
	}
	segments = append(segments, fmt.Sprintf("🛑 %d", report.TotalLongStops))
	if len(report.Devices) > 1 {
		for i, d := range report.Devices {
			if i == 2 {
				break
			}
			segments = append(segments, fmt.Sprintf("%s: %s km", truncateRunes(d.Name, 24), formatKmPtBR(d.DistanceKm)))
		}
	}

	data := map[string]string{
		"summaryType": summaryPushType,
		"reportPath":  "/reports/daily?date=" + report.Date,
	}
	if len(report.Devices) == 1 {
		data["reportPath"] += "&deviceId=" + strconv.FormatInt(report.Devices[0].DeviceID, 10)
	}
	return notification.Message{Title: title, Body: strings.Join(segments, " • "), Data: data}
}

func averageSpeedKph(distanceKm float64, movingSeconds int64) float64 {
	if distanceKm <= 0 || movingSeconds <= 0 {
		return 0
	}
	return distanceKm / (float64(movingSeconds) / 3600)
}

func formatMotion(seconds int64) string {
	if seconds <= 0 {
		return "0m"
	}
	minutes := seconds / 60
	if minutes == 0 {
		minutes = 1
	}
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dh%02d", minutes/60, minutes%60)
}

func formatKmPtBR(km float64) string {
	s := strconv.FormatFloat(km, 'f', 1, 64)
	dot := strings.IndexByte(s, '.')
	whole, frac := s[:dot], s[dot+1:]
	var groups []string
	for len(whole) > 3 {
		groups = append([]string{whole[len(whole)-3:]}, groups...)
		whole = whole[:len(whole)-3]
	}
	groups = append([]string{whole}, groups...)
	return strings.Join(groups, ".") + "," + frac
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

type webhookDevice struct {
	DeviceID      int64   `json:"deviceId"`
	Name          string  `json:"name"`
	DistanceKm    float64 `json:"distanceKm"`
	MovingSeconds int64   `json:"movingSeconds"`
	MaxSpeedKph   int64   `json:"maxSpeedKph"`
	Geofences     int64   `json:"geofences"`
	LongStops     int     `json:"longStops"`
}

type webhookTotals struct {
	DistanceKm    float64 `json:"distanceKm"`
	MovingSeconds int64   `json:"movingSeconds"`
	MaxSpeedKph   int64   `json:"maxSpeedKph"`
	AvgSpeedKph   float64 `json:"avgSpeedKph"`
	Geofences     int64   `json:"geofences"`
	LongStops     int     `json:"longStops"`
}

type webhookPayload struct {
	UserID    int64           `json:"userId"`
	UserName  string          `json:"userName"`
	UserPhone string          `json:"userPhone"`
	UserEmail string          `json:"userEmail"`
	DateRef   string          `json:"dateRef"`
	Devices   []webhookDevice `json:"devices"`
	Totals    webhookTotals   `json:"totals"`
}

func (t *SummaryTask) postWebhook(ctx context.Context, cfg config.SummaryConfig, user *model.User, report *summaryReport) {
	payload := webhookPayload{
		UserID:    user.ID,
		UserName:  user.Name,
		UserPhone: user.Phone,
		UserEmail: user.Email,
		DateRef:   report.Date,
		Totals: webhookTotals{
			DistanceKm:    report.TotalDistanceKm,
			MovingSeconds: report.TotalMovingSeconds,
			MaxSpeedKph:   report.MaxSpeedKph,
			AvgSpeedKph:   averageSpeedKph(report.TotalDistanceKm, report.TotalMovingSeconds),
			Geofences:     report.TotalGeofences,
			LongStops:     report.TotalLongStops,
		},
	}
	for _, d := range report.Devices {
		payload.Devices = append(payload.Devices, webhookDevice{
			DeviceID:      d.DeviceID,
			Name:          d.Name,
			DistanceKm:    d.DistanceKm,
			MovingSeconds: d.MovingSeconds,
			MaxSpeedKph:   d.MaxSpeedKph,
			Geofences:     d.Geofences,
			LongStops:     d.LongStops,
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	status := "failed"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.WebhookURL, bytes.NewReader(body))
	if err == nil {
		req.Header.Set("Content-Type", "application/json")
		if cfg.WebhookToken != "" {
			req.Header.Set("Authorization", "Bearer "+cfg.WebhookToken)
		}
		if resp, err := t.client.Do(req); err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
				status = "sent"
			}
		}
	}
	t.setWhatsappStatus(ctx, user.ID, status)
}

func (t *SummaryTask) setWhatsappStatus(ctx context.Context, userID int64, status string) {
	fresh, err := t.store.GetUser(ctx, userID)
	if err != nil || fresh == nil {
		return
	}
	if fresh.Attributes == nil {
		fresh.Attributes = model.Attributes{}
	}
	fresh.Attributes[keySummaryWhatsapp] = status
	if err := t.store.UpdateUserAttributes(ctx, userID, fresh.Attributes); err != nil {
		if t.logger != nil {
			t.logger.Warn("summary webhook state persist failed", "err", err, "user_id", userID)
		}
		return
	}
	if t.cache != nil {
		t.cache.PutUser(fresh)
	}
}
