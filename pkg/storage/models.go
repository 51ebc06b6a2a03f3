package storage

import (
	"strconv"
	"time"
)

type LinkRecord struct {
	ID                   string     `json:"id"`
	CampaignID           string     `json:"campaign_id"`
	OriginalURL          string     `json:"original_url"`
	ShortCode            string     `json:"short_code"`
	EncryptedDestination string     `json:"-"`
	ClickCount           int        `json:"clicks"`
	Cloaked              bool       `json:"cloaked"`
	Domain               string     `json:"domain,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	ExpiresAt            *time.Time `json:"expires_at,omitempty"`
	Active               bool       `json:"active"`
}

// ClickEvent is append-only; nothing rewrites it once stored.
type ClickEvent struct {
	ID         string    `json:"id"`
	LinkID     string    `json:"link_id"`
	CampaignID string    `json:"campaign_id"`
	IPAddress  string    `json:"ip_address"`
	UserAgent  string    `json:"user_agent"`
	Country    string    `json:"country"`
	City       string    `json:"city"`
	Referrer   string    `json:"referrer"`
	Timestamp  time.Time `json:"timestamp"`
	DeviceType string    `json:"device_type"`
	Browser    string    `json:"browser"`
}

type CampaignRecord struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	TotalLinks  int       `json:"total_links"`
	TotalClicks int       `json:"total_clicks"`
	Active      bool      `json:"active"`
}

type DomainRecord struct {
	Domain     string     `json:"domain"`
	Verified   bool       `json:"verified"`
	SSLEnabled bool       `json:"ssl_enabled"`
	AddedAt    time.Time  `json:"added_at"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}

// ToRow encodes the link with its collection schema. EncryptedDestination is
// only written for cloaked links.
func (l LinkRecord) ToRow() Row {
	enc := ""
	if l.Cloaked {
		enc = l.EncryptedDestination
	}
	return Row{
		"id":                    l.ID,
		"campaign_id":           l.CampaignID,
		"original_url":          l.OriginalURL,
		"short_code":            l.ShortCode,
		"encrypted_destination": enc,
		"clicks":                strconv.Itoa(l.ClickCount),
		"cloaked":               formatBool(l.Cloaked),
		"domain":                l.Domain,
		"created_at":            formatTime(l.CreatedAt),
		"expires_at":            formatOptionalTime(l.ExpiresAt),
		"active":                formatBool(l.Active),
	}
}

func LinkFromRow(r Row) LinkRecord {
	l := LinkRecord{
		ID:          r.Get("id"),
		CampaignID:  r.Get("campaign_id"),
		OriginalURL: r.Get("original_url"),
		ShortCode:   r.Get("short_code"),
		ClickCount:  parseCount(r.Get("clicks")),
		Cloaked:     parseBool(r.Get("cloaked")),
		Domain:      r.Get("domain"),
		CreatedAt:   parseTime(r.Get("created_at")),
		ExpiresAt:   parseOptionalTime(r.Get("expires_at")),
		Active:      parseBool(r.Get("active")),
	}
	if l.Cloaked {
		l.EncryptedDestination = r.Get("encrypted_destination")
	}
	return l
}

func (c ClickEvent) ToRow() Row {
	return Row{
		"id":          c.ID,
		"link_id":     c.LinkID,
		"campaign_id": c.CampaignID,
		"ip_address":  c.IPAddress,
		"user_agent":  c.UserAgent,
		"country":     c.Country,
		"city":        c.City,
		"referrer":    c.Referrer,
		"timestamp":   formatTime(c.Timestamp),
		"device_type": c.DeviceType,
		"browser":     c.Browser,
	}
}

func ClickFromRow(r Row) ClickEvent {
	return ClickEvent{
		ID:         r.Get("id"),
		LinkID:     r.Get("link_id"),
		CampaignID: r.Get("campaign_id"),
		IPAddress:  r.Get("ip_address"),
		UserAgent:  r.Get("user_agent"),
		Country:    r.Get("country"),
		City:       r.Get("city"),
		Referrer:   r.Get("referrer"),
		Timestamp:  parseTime(r.Get("timestamp")),
		DeviceType: r.Get("device_type"),
		Browser:    r.Get("browser"),
	}
}

func (c CampaignRecord) ToRow() Row {
	return Row{
		"id":           c.ID,
		"name":         c.Name,
		"description":  c.Description,
		"created_at":   formatTime(c.CreatedAt),
		"total_links":  strconv.Itoa(c.TotalLinks),
		"total_clicks": strconv.Itoa(c.TotalClicks),
		"active":       formatBool(c.Active),
	}
}

func CampaignFromRow(r Row) CampaignRecord {
	return CampaignRecord{
		ID:          r.Get("id"),
		Name:        r.Get("name"),
		Description: r.Get("description"),
		CreatedAt:   parseTime(r.Get("created_at")),
		TotalLinks:  parseCount(r.Get("total_links")),
		TotalClicks: parseCount(r.Get("total_clicks")),
		Active:      parseBool(r.Get("active")),
	}
}

func (d DomainRecord) ToRow() Row {
	return Row{
		"domain":      d.Domain,
		"verified":    formatBool(d.Verified),
		"ssl_enabled": formatBool(d.SSLEnabled),
		"added_at":    formatTime(d.AddedAt),
		"verified_at": formatOptionalTime(d.VerifiedAt),
	}
}

func DomainFromRow(r Row) DomainRecord {
	return DomainRecord{
		Domain:     r.Get("domain"),
		Verified:   parseBool(r.Get("verified")),
		SSLEnabled: parseBool(r.Get("ssl_enabled")),
		AddedAt:    parseTime(r.Get("added_at")),
		VerifiedAt: parseOptionalTime(r.Get("verified_at")),
	}
}

func formatBool(b bool) string {
	return strconv.FormatBool(b)
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

// parseCount never returns a negative value.
func parseCount(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseOptionalTime(s string) *time.Time {
	t := parseTime(s)
	if t.IsZero() {
		return nil
	}
	return &t
}
