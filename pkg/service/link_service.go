package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"

	"link-tracker/pkg/logging"
	"link-tracker/pkg/storage"

	"github.com/google/uuid"
)

// LinkService is the management surface for campaigns, links and domains.
// It is the only writer of a link's destination, cloak flag, active flag
// and expiry.
type LinkService struct {
	store   storage.RecordStore
	codec   Cloaker
	logger  *logging.Logger
	baseURL string
	gate    *AccountingGate

	now          func() time.Time
	newID        func() string
	generateCode func() (string, error)
}

func NewLinkService(store storage.RecordStore, codec Cloaker, logger *logging.Logger, baseURL string) *LinkService {
	return &LinkService{
		store:        store,
		codec:        codec,
		logger:       logger,
		baseURL:      strings.TrimRight(baseURL, "/"),
		now:          time.Now,
		newID:        uuid.NewString,
		generateCode: GenerateCode,
	}
}

// WithGate makes link creation and deletion, together with the campaign
// link total they adjust, one tracked unit on g.
func (s *LinkService) WithGate(g *AccountingGate) *LinkService {
	s.gate = g
	return s
}

// LinkView is a link as shown to management clients.
type LinkView struct {
	storage.LinkRecord
	ShortURL string `json:"short_url"`
}

// ShortURL builds the public URL of a link: its custom domain over https
// when it has one, the configured base URL otherwise.
func (s *LinkService) ShortURL(link storage.LinkRecord) string {
	if link.Domain != "" {
		return "https://" + link.Domain + "/" + link.ShortCode
	}
	return s.baseURL + "/" + link.ShortCode
}

func (s *LinkService) view(link storage.LinkRecord) LinkView {
	return LinkView{LinkRecord: link, ShortURL: s.ShortURL(link)}
}

type CreateCampaignRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *LinkService) CreateCampaign(ctx context.Context, req *CreateCampaignRequest) (*storage.CampaignRecord, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: campaign name is required", ErrInvalidInput)
	}
	campaign := storage.CampaignRecord{
		ID:          s.newID(),
		Name:        name,
		Description: req.Description,
		CreatedAt:   s.now().UTC(),
		Active:      true,
	}
	if err := s.store.Append(ctx, storage.Campaigns, campaign.ToRow()); err != nil {
		s.logger.LogLinkOperation(ctx, "create_campaign", campaign.ID, false)
		return nil, err
	}
	s.logger.LogLinkOperation(ctx, "create_campaign", campaign.ID, true)
	return &campaign, nil
}

func (s *LinkService) ListCampaigns(ctx context.Context) ([]storage.CampaignRecord, error) {
	return storage.ReadCampaigns(ctx, s.store)
}

func (s *LinkService) GetCampaign(ctx context.Context, id string) (*storage.CampaignRecord, error) {
	campaigns, err := storage.ReadCampaigns(ctx, s.store)
	if err != nil {
		return nil, err
	}
	for _, c := range campaigns {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (s *LinkService) ToggleCampaign(ctx context.Context, id string) (*storage.CampaignRecord, error) {
	var toggled *storage.CampaignRecord
	err := storage.UpdateCampaigns(ctx, s.store, func(campaigns []storage.CampaignRecord) ([]storage.CampaignRecord, error) {
		for i := range campaigns {
			if campaigns[i].ID == id {
				campaigns[i].Active = !campaigns[i].Active
				c := campaigns[i]
				toggled = &c
				return campaigns, nil
			}
		}
		return nil, ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	s.logger.LogLinkOperation(ctx, "toggle_campaign", id, true)
	return toggled, nil
}

type CreateLinkRequest struct {
	CampaignID  string     `json:"campaign_id"`
	OriginalURL string     `json:"original_url"`
	Alias       *string    `json:"alias,omitempty"`
	Cloaked     bool       `json:"cloaked"`
	Domain      string     `json:"domain,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

func (s *LinkService) CreateLink(ctx context.Context, req *CreateLinkRequest) (*LinkView, error) {
	if err := s.validateURL(ctx, req.OriginalURL); err != nil {
		return nil, err
	}
	if req.Alias != nil && (*req.Alias == "" || !ValidateAlias(*req.Alias)) {
		return nil, ErrInvalidAlias
	}
	domain, err := normalizeDomain(req.Domain, true)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetCampaign(ctx, req.CampaignID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnknownCampaign
		}
		return nil, err
	}

	link := storage.LinkRecord{
		ID:          s.newID(),
		CampaignID:  req.CampaignID,
		OriginalURL: req.OriginalURL,
		Cloaked:     req.Cloaked,
		Domain:      domain,
		CreatedAt:   s.now().UTC(),
		ExpiresAt:   req.ExpiresAt,
		Active:      true,
	}
	if link.Cloaked {
		enc, err := s.codec.Encode(link.OriginalURL)
		if err != nil {
			return nil, fmt.Errorf("failed to cloak destination: %w", err)
		}
		link.EncryptedDestination = enc
	}

	err = s.gate.Track(func() error {
		if err := s.insertLink(ctx, &link, req.Alias); err != nil {
			s.logger.LogLinkOperation(ctx, "create_link", link.ID, false)
			return err
		}
		s.logger.LogLinkOperation(ctx, "create_link", link.ID, true)

		if err := s.adjustTotalLinks(ctx, link.CampaignID, 1); err != nil {
			// Reconcile repairs the drift.
			s.logger.Warn(ctx, "campaign link total not updated", "campaign_id", link.CampaignID, "error", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	v := s.view(link)
	return &v, nil
}

// insertLink picks the code and inserts in one update so a concurrent
// create cannot claim the same code in between.
func (s *LinkService) insertLink(ctx context.Context, link *storage.LinkRecord, alias *string) error {
	return storage.UpdateLinks(ctx, s.store, func(links []storage.LinkRecord) ([]storage.LinkRecord, error) {
		taken := func(code string) bool {
			for _, l := range links {
				if strings.EqualFold(l.ShortCode, code) {
					return true
				}
			}
			return false
		}
		if alias != nil {
			if taken(*alias) {
				return nil, ErrCodeExists
			}
			link.ShortCode = *alias
		} else {
			code, err := uniqueCode(taken, s.generateCode)
			if err != nil {
				return nil, err
			}
			link.ShortCode = code
		}
		return append(links, *link), nil
	})
}

// ListLinks lists every link, or only those of campaignID when it is set.
func (s *LinkService) ListLinks(ctx context.Context, campaignID string) ([]LinkView, error) {
	links, err := storage.ReadLinks(ctx, s.store)
	if err != nil {
		return nil, err
	}
	views := make([]LinkView, 0, len(links))
	for _, l := range links {
		if campaignID != "" && l.CampaignID != campaignID {
			continue
		}
		views = append(views, s.view(l))
	}
	return views, nil
}

func (s *LinkService) GetLink(ctx context.Context, id string) (*LinkView, error) {
	links, err := storage.ReadLinks(ctx, s.store)
	if err != nil {
		return nil, err
	}
	for _, l := range links {
		if l.ID == id {
			v := s.view(l)
			return &v, nil
		}
	}
	return nil, ErrNotFound
}

func (s *LinkService) ToggleLink(ctx context.Context, id string) (*LinkView, error) {
	var toggled *LinkView
	err := storage.UpdateLinks(ctx, s.store, func(links []storage.LinkRecord) ([]storage.LinkRecord, error) {
		for i := range links {
			if links[i].ID == id {
				links[i].Active = !links[i].Active
				v := s.view(links[i])
				toggled = &v
				return links, nil
			}
		}
		return nil, ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	s.logger.LogLinkOperation(ctx, "toggle_link", id, true)
	return toggled, nil
}

// DeleteLink removes the link. Its click events stay in the log.
func (s *LinkService) DeleteLink(ctx context.Context, id string) error {
	return s.gate.Track(func() error {
		var removed *storage.LinkRecord
		err := storage.UpdateLinks(ctx, s.store, func(links []storage.LinkRecord) ([]storage.LinkRecord, error) {
			for i := range links {
				if links[i].ID == id {
					l := links[i]
					removed = &l
					return append(links[:i], links[i+1:]...), nil
				}
			}
			return nil, ErrNotFound
		})
		if err != nil {
			s.logger.LogLinkOperation(ctx, "delete_link", id, false)
			return err
		}
		s.logger.LogLinkOperation(ctx, "delete_link", id, true)

		if err := s.adjustTotalLinks(ctx, removed.CampaignID, -1); err != nil {
			s.logger.Warn(ctx, "campaign link total not updated", "campaign_id", removed.CampaignID, "error", err)
		}
		return nil
	})
}

func (s *LinkService) adjustTotalLinks(ctx context.Context, campaignID string, delta int) error {
	return storage.UpdateCampaigns(ctx, s.store, func(campaigns []storage.CampaignRecord) ([]storage.CampaignRecord, error) {
		for i := range campaigns {
			if campaigns[i].ID == campaignID {
				campaigns[i].TotalLinks = max(campaigns[i].TotalLinks+delta, 0)
				return campaigns, nil
			}
		}
		return nil, storage.ErrNoChange
	})
}

func (s *LinkService) AddDomain(ctx context.Context, name string) (*storage.DomainRecord, error) {
	domain, err := normalizeDomain(name, false)
	if err != nil {
		return nil, err
	}
	record := storage.DomainRecord{Domain: domain, AddedAt: s.now().UTC()}
	err = storage.UpdateDomains(ctx, s.store, func(domains []storage.DomainRecord) ([]storage.DomainRecord, error) {
		for _, d := range domains {
			if d.Domain == domain {
				return nil, ErrDomainExists
			}
		}
		return append(domains, record), nil
	})
	if err != nil {
		s.logger.LogLinkOperation(ctx, "add_domain", domain, false)
		return nil, err
	}
	s.logger.LogLinkOperation(ctx, "add_domain", domain, true)
	return &record, nil
}

func (s *LinkService) ListDomains(ctx context.Context) ([]storage.DomainRecord, error) {
	return storage.ReadDomains(ctx, s.store)
}

// VerifyDomain marks the domain verified. Ownership is not checked.
func (s *LinkService) VerifyDomain(ctx context.Context, name string) (*storage.DomainRecord, error) {
	domain := strings.ToLower(strings.TrimSpace(name))
	var verified *storage.DomainRecord
	err := storage.UpdateDomains(ctx, s.store, func(domains []storage.DomainRecord) ([]storage.DomainRecord, error) {
		for i := range domains {
			if domains[i].Domain == domain {
				at := s.now().UTC()
				domains[i].Verified = true
				domains[i].VerifiedAt = &at
				d := domains[i]
				verified = &d
				return domains, nil
			}
		}
		return nil, ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	s.logger.LogLinkOperation(ctx, "verify_domain", domain, true)
	return verified, nil
}

func (s *LinkService) DeleteDomain(ctx context.Context, name string) error {
	domain := strings.ToLower(strings.TrimSpace(name))
	err := storage.UpdateDomains(ctx, s.store, func(domains []storage.DomainRecord) ([]storage.DomainRecord, error) {
		for i := range domains {
			if domains[i].Domain == domain {
				return append(domains[:i], domains[i+1:]...), nil
			}
		}
		return nil, ErrNotFound
	})
	if err != nil {
		s.logger.LogLinkOperation(ctx, "delete_domain", domain, false)
		return err
	}
	s.logger.LogLinkOperation(ctx, "delete_domain", domain, true)
	return nil
}

var domainRegex = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}$`)

func normalizeDomain(name string, allowEmpty bool) (string, error) {
	domain := strings.ToLower(strings.TrimSpace(name))
	if domain == "" && allowEmpty {
		return "", nil
	}
	if !domainRegex.MatchString(domain) {
		return "", ErrInvalidDomain
	}
	return domain, nil
}

// validateURL accepts absolute http(s) URLs that do not point at private,
// loopback or otherwise internal hosts.
func (s *LinkService) validateURL(ctx context.Context, raw string) error {
	parsedURL, err := url.ParseRequestURI(raw)
	if err != nil || parsedURL.Host == "" {
		s.logger.LogURLValidation(ctx, false, "")
		return ErrInvalidURL
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		s.logger.LogURLValidation(ctx, false, parsedURL.Scheme)
		return fmt.Errorf("%w: only http and https allowed", ErrInvalidURL)
	}

	host := parsedURL.Hostname()
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			s.logger.LogURLValidation(ctx, false, parsedURL.Scheme)
			return fmt.Errorf("%w: private, loopback, or link-local addresses not allowed", ErrInvalidURL)
		}
		if ip.IsMulticast() || ip.IsUnspecified() {
			s.logger.LogURLValidation(ctx, false, parsedURL.Scheme)
			return fmt.Errorf("%w: multicast or unspecified address", ErrInvalidURL)
		}
	} else if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		s.logger.LogURLValidation(ctx, false, parsedURL.Scheme)
		return fmt.Errorf("%w: localhost not allowed", ErrInvalidURL)
	}

	s.logger.LogURLValidation(ctx, true, parsedURL.Scheme)
	return nil
}
