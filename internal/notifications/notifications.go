// Package notifications delivers alerts for scan results and case activity
// over Slack webhooks and SMTP email.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/imageguard/guardian/internal/models"
)

type NotificationType string

const (
	NotifyNewViolations    NotificationType = "new_violations"
	NotifyCriticalInfringer NotificationType = "critical_infringer"
	NotifyScanComplete     NotificationType = "scan_complete"
	NotifyScanFailed       NotificationType = "scan_failed"
	NotifyCaseCreated      NotificationType = "case_created"
	NotifyCaseStatus       NotificationType = "case_status"
	NotifyDailyDigest      NotificationType = "daily_digest"
)

type Channel string

const (
	ChannelSlack Channel = "slack"
	ChannelEmail Channel = "email"
)

// Notification is one alert to be fanned out to enabled channels.
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Severity  models.RiskLevel
	Data      map[string]interface{}
	Timestamp time.Time
}

type Config struct {
	Slack SlackConfig
	Email EmailConfig
}

type SlackConfig struct {
	WebhookURL  string
	Channel     string
	Username    string
	IconEmoji   string
	Enabled     bool
	MinSeverity models.RiskLevel
}

type EmailConfig struct {
	SMTPHost    string
	SMTPPort    int
	Username    string
	Password    string
	From        string
	To          []string
	Enabled     bool
	MinSeverity models.RiskLevel
}

type Service struct {
	config Config
	logger *slog.Logger
	client *http.Client
}

func NewService(config Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		config: config,
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send fans a notification out to every enabled channel whose severity
// threshold it meets.
func (s *Service) Send(ctx context.Context, notif *Notification) error {
	var errs []error

	if s.config.Slack.Enabled && s.shouldNotify(notif.Severity, s.config.Slack.MinSeverity) {
		if err := s.sendSlack(ctx, notif); err != nil {
			errs = append(errs, fmt.Errorf("slack: %w", err))
		}
	}

	if s.config.Email.Enabled && s.shouldNotify(notif.Severity, s.config.Email.MinSeverity) {
		if err := s.sendEmail(ctx, notif); err != nil {
			errs = append(errs, fmt.Errorf("email: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %v", errs)
	}
	return nil
}

func (s *Service) shouldNotify(actual, minimum models.RiskLevel) bool {
	order := map[models.RiskLevel]int{
		models.RiskLow:      1,
		models.RiskMedium:   2,
		models.RiskHigh:     3,
		models.RiskCritical: 4,
	}
	return order[actual] >= order[minimum]
}

type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	TitleLink string       `json:"title_link,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fallback  string       `json:"fallback,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func (s *Service) sendSlack(ctx context.Context, notif *Notification) error {
	color := s.severityToColor(notif.Severity)

	fields := []SlackField{}
	if notif.Data != nil {
		if platform, ok := notif.Data["platform"].(string); ok {
			fields = append(fields, SlackField{Title: "Platform", Value: platform, Short: true})
		}
		if seller, ok := notif.Data["seller_name"].(string); ok {
			fields = append(fields, SlackField{Title: "Seller", Value: seller, Short: true})
		}
		if count, ok := notif.Data["violation_count"].(int); ok {
			fields = append(fields, SlackField{Title: "Violations", Value: fmt.Sprintf("%d", count), Short: true})
		}
		if number, ok := notif.Data["case_number"].(string); ok {
			fields = append(fields, SlackField{Title: "Case", Value: number, Short: true})
		}
	}

	msg := SlackMessage{
		Channel:   s.config.Slack.Channel,
		Username:  s.config.Slack.Username,
		IconEmoji: s.config.Slack.IconEmoji,
		Attachments: []SlackAttachment{
			{
				Color:     color,
				Title:     notif.Title,
				Text:      notif.Message,
				Fallback:  fmt.Sprintf("%s: %s", notif.Title, notif.Message),
				Fields:    fields,
				Footer:    "Image Guardian",
				Timestamp: notif.Timestamp.Unix(),
			},
		},
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.Slack.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}

	s.logger.Info("slack notification sent", "type", notif.Type, "title", notif.Title)
	return nil
}

func (s *Service) severityToColor(severity models.RiskLevel) string {
	switch severity {
	case models.RiskCritical:
		return "#FF0000"
	case models.RiskHigh:
		return "#FFA500"
	case models.RiskMedium:
		return "#FFFF00"
	default:
		return "#36A64F"
	}
}

func (s *Service) sendEmail(ctx context.Context, notif *Notification) error {
	subject := fmt.Sprintf("[Image Guardian] %s", notif.Title)
	body, err := s.formatEmailBody(notif)
	if err != nil {
		return err
	}

	msg := s.buildEmailMessage(subject, body)

	auth := smtp.PlainAuth("", s.config.Email.Username, s.config.Email.Password, s.config.Email.SMTPHost)
	addr := fmt.Sprintf("%s:%d", s.config.Email.SMTPHost, s.config.Email.SMTPPort)

	if err := smtp.SendMail(addr, auth, s.config.Email.From, s.config.Email.To, []byte(msg)); err != nil {
		return err
	}

	s.logger.Info("email notification sent",
		"type", notif.Type, "title", notif.Title, "recipients", len(s.config.Email.To))
	return nil
}

func (s *Service) buildEmailMessage(subject, body string) string {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", s.config.Email.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(s.config.Email.To, ",")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return msg.String()
}

func (s *Service) formatEmailBody(notif *Notification) (string, error) {
	tmpl := `
<!DOCTYPE html>
<html>
<head>
    <style>
        body { font-family: Arial, sans-serif; margin: 0; padding: 20px; background-color: #f5f5f5; }
        .container { max-width: 600px; margin: 0 auto; background: white; border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        .header { padding: 20px; background: {{.HeaderColor}}; color: white; border-radius: 8px 8px 0 0; }
        .content { padding: 20px; }
        .severity { display: inline-block; padding: 4px 8px; border-radius: 4px; font-weight: bold; background: {{.SeverityColor}}; color: white; }
        .data-table { width: 100%; border-collapse: collapse; margin-top: 15px; }
        .data-table td { padding: 8px; border-bottom: 1px solid #eee; }
        .data-table td:first-child { font-weight: bold; width: 30%; }
        .footer { padding: 15px 20px; background: #f9f9f9; border-radius: 0 0 8px 8px; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h2 style="margin:0;">{{.Title}}</h2>
        </div>
        <div class="content">
            <p>{{.Message}}</p>
            <p>Severity: <span class="severity">{{.Severity}}</span></p>
            {{if .HasData}}
            <table class="data-table">
                {{range $key, $value := .Data}}
                <tr>
                    <td>{{$key}}</td>
                    <td>{{$value}}</td>
                </tr>
                {{end}}
            </table>
            {{end}}
        </div>
        <div class="footer">
            <p>This is an automated alert from Image Guardian.</p>
            <p>Generated at: {{.Timestamp}}</p>
        </div>
    </div>
</body>
</html>
`
	t, err := template.New("email").Parse(tmpl)
	if err != nil {
		return "", err
	}

	headerColor := "#2196F3"
	severityColor := s.severityToColor(notif.Severity)

	switch notif.Severity {
	case models.RiskCritical:
		headerColor = "#F44336"
	case models.RiskHigh:
		headerColor = "#FF9800"
	case models.RiskMedium:
		headerColor = "#FFC107"
	}

	data := map[string]interface{}{
		"Title":         notif.Title,
		"Message":       notif.Message,
		"Severity":      string(notif.Severity),
		"HeaderColor":   headerColor,
		"SeverityColor": severityColor,
		"Data":          notif.Data,
		"HasData":       len(notif.Data) > 0,
		"Timestamp":     notif.Timestamp.Format(time.RFC1123),
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ScanStats summarizes a finished scan for the completion alert.
type ScanStats struct {
	TaskID        string
	Platforms     []string
	TotalScanned  int
	NewViolations int
	ExactMatches  int
	HighMatches   int
	Duration      time.Duration
}

func (s *Service) statsToSeverity(stats ScanStats) models.RiskLevel {
	if stats.ExactMatches > 0 {
		return models.RiskCritical
	}
	if stats.HighMatches > 0 {
		return models.RiskHigh
	}
	if stats.NewViolations > 0 {
		return models.RiskMedium
	}
	return models.RiskLow
}

// NotifyScanComplete alerts on a finished scan, with severity derived from
// the strongest match found.
func (s *Service) NotifyScanComplete(ctx context.Context, stats ScanStats) error {
	notif := &Notification{
		Type:     NotifyScanComplete,
		Title:    "Scan Completed",
		Message:  fmt.Sprintf("Scanned %d listings, found %d new violations", stats.TotalScanned, stats.NewViolations),
		Severity: s.statsToSeverity(stats),
		Data: map[string]interface{}{
			"task_id":         stats.TaskID,
			"platforms":       strings.Join(stats.Platforms, ", "),
			"total_scanned":   stats.TotalScanned,
			"violation_count": stats.NewViolations,
			"exact_matches":   stats.ExactMatches,
			"duration":        stats.Duration.String(),
		},
		Timestamp: time.Now(),
	}
	return s.Send(ctx, notif)
}

// NotifyScanFailed alerts on a scan that failed on every platform.
func (s *Service) NotifyScanFailed(ctx context.Context, taskID string, err error) error {
	notif := &Notification{
		Type:     NotifyScanFailed,
		Title:    "Scan Failed",
		Message:  fmt.Sprintf("Scan %s failed: %s", taskID, err.Error()),
		Severity: models.RiskHigh,
		Data: map[string]interface{}{
			"task_id": taskID,
			"error":   err.Error(),
		},
		Timestamp: time.Now(),
	}
	return s.Send(ctx, notif)
}

// NotifyCriticalInfringer alerts when a seller's risk profile crosses into
// critical.
func (s *Service) NotifyCriticalInfringer(ctx context.Context, profile *models.InfringerProfile) error {
	notif := &Notification{
		Type:  NotifyCriticalInfringer,
		Title: "Critical Risk Infringer",
		Message: fmt.Sprintf("Seller %s on %s reached risk score %.0f with %d violations",
			profile.SellerName, profile.Platform, profile.RiskScore, profile.ViolationCount),
		Severity: models.RiskCritical,
		Data: map[string]interface{}{
			"platform":        string(profile.Platform),
			"seller_name":     profile.SellerName,
			"seller_id":       profile.SellerID,
			"violation_count": profile.ViolationCount,
			"risk_score":      fmt.Sprintf("%.1f", profile.RiskScore),
			"est_revenue":     fmt.Sprintf("%.0f", profile.EstimatedRevenue),
		},
		Timestamp: time.Now(),
	}
	return s.Send(ctx, notif)
}

// CaseCreated implements the case service notifier.
func (s *Service) CaseCreated(ctx context.Context, c *models.LegalCase, violations int) {
	notif := &Notification{
		Type:  NotifyCaseCreated,
		Title: "Legal Case Opened",
		Message: fmt.Sprintf("Case %s opened against %s on %s with %d violations",
			c.CaseNumber, c.SellerName, c.Platform, violations),
		Severity: priorityToSeverity(c.Priority),
		Data: map[string]interface{}{
			"case_number":     c.CaseNumber,
			"platform":        string(c.Platform),
			"seller_name":     c.SellerName,
			"violation_count": violations,
		},
		Timestamp: time.Now(),
	}
	if err := s.Send(ctx, notif); err != nil {
		s.logger.Warn("case created notification failed", "case_number", c.CaseNumber, "error", err)
	}
}

// CaseStatusChanged implements the case service notifier.
func (s *Service) CaseStatusChanged(ctx context.Context, c *models.LegalCase, from, to models.CaseStatus) {
	notif := &Notification{
		Type:     NotifyCaseStatus,
		Title:    fmt.Sprintf("Case %s: %s", c.CaseNumber, to),
		Message:  fmt.Sprintf("Case %s moved from %s to %s", c.CaseNumber, from, to),
		Severity: priorityToSeverity(c.Priority),
		Data: map[string]interface{}{
			"case_number": c.CaseNumber,
			"platform":    string(c.Platform),
			"seller_name": c.SellerName,
		},
		Timestamp: time.Now(),
	}
	if err := s.Send(ctx, notif); err != nil {
		s.logger.Warn("case status notification failed", "case_number", c.CaseNumber, "error", err)
	}
}

func priorityToSeverity(p models.CasePriority) models.RiskLevel {
	switch p {
	case models.PriorityUrgent:
		return models.RiskCritical
	case models.PriorityHigh:
		return models.RiskHigh
	case models.PriorityMedium:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// DigestStats summarizes a reporting period for the daily digest.
type DigestStats struct {
	Period          string
	NewViolations   int
	ResolvedCases   int
	OpenCases       int
	CriticalSellers int
	ListingsScanned int
	TopPlatforms    map[string]int
}

func (s *Service) digestToSeverity(stats DigestStats) models.RiskLevel {
	if stats.CriticalSellers > 0 {
		return models.RiskCritical
	}
	if stats.NewViolations > 20 {
		return models.RiskHigh
	}
	if stats.NewViolations > 0 {
		return models.RiskMedium
	}
	return models.RiskLow
}

// NotifyDailyDigest sends the periodic activity summary.
func (s *Service) NotifyDailyDigest(ctx context.Context, stats DigestStats) error {
	notif := &Notification{
		Type:     NotifyDailyDigest,
		Title:    "Daily Protection Digest",
		Message:  fmt.Sprintf("Summary: %d new violations, %d cases resolved", stats.NewViolations, stats.ResolvedCases),
		Severity: s.digestToSeverity(stats),
		Data: map[string]interface{}{
			"period":           stats.Period,
			"new_violations":   stats.NewViolations,
			"resolved_cases":   stats.ResolvedCases,
			"open_cases":       stats.OpenCases,
			"critical_sellers": stats.CriticalSellers,
			"listings_scanned": stats.ListingsScanned,
		},
		Timestamp: time.Now(),
	}
	return s.Send(ctx, notif)
}
