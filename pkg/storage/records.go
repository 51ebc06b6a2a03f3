package storage

import "context"

// Typed accessors over a RecordStore. Rows that fail to parse decode to
// zero values instead of failing the read.

func ReadLinks(ctx context.Context, s RecordStore) ([]LinkRecord, error) {
	rows, err := s.ReadAll(ctx, Links)
	if err != nil {
		return nil, err
	}
	links := make([]LinkRecord, 0, len(rows))
	for _, r := range rows {
		links = append(links, LinkFromRow(r))
	}
	return links, nil
}

func ReadClicks(ctx context.Context, s RecordStore) ([]ClickEvent, error) {
	rows, err := s.ReadAll(ctx, Clicks)
	if err != nil {
		return nil, err
	}
	clicks := make([]ClickEvent, 0, len(rows))
	for _, r := range rows {
		clicks = append(clicks, ClickFromRow(r))
	}
	return clicks, nil
}

func ReadCampaigns(ctx context.Context, s RecordStore) ([]CampaignRecord, error) {
	rows, err := s.ReadAll(ctx, Campaigns)
	if err != nil {
		return nil, err
	}
	campaigns := make([]CampaignRecord, 0, len(rows))
	for _, r := range rows {
		campaigns = append(campaigns, CampaignFromRow(r))
	}
	return campaigns, nil
}

func ReadDomains(ctx context.Context, s RecordStore) ([]DomainRecord, error) {
	rows, err := s.ReadAll(ctx, Domains)
	if err != nil {
		return nil, err
	}
	domains := make([]DomainRecord, 0, len(rows))
	for _, r := range rows {
		domains = append(domains, DomainFromRow(r))
	}
	return domains, nil
}

// UpdateLinks applies fn to the decoded link collection through Update.
func UpdateLinks(ctx context.Context, s RecordStore, fn func([]LinkRecord) ([]LinkRecord, error)) error {
	return Update(ctx, s, Links, func(rows []Row) ([]Row, error) {
		links := make([]LinkRecord, 0, len(rows))
		for _, r := range rows {
			links = append(links, LinkFromRow(r))
		}
		next, err := fn(links)
		if err != nil {
			return nil, err
		}
		out := make([]Row, 0, len(next))
		for _, l := range next {
			out = append(out, l.ToRow())
		}
		return out, nil
	})
}

func UpdateCampaigns(ctx context.Context, s RecordStore, fn func([]CampaignRecord) ([]CampaignRecord, error)) error {
	return Update(ctx, s, Campaigns, func(rows []Row) ([]Row, error) {
		campaigns := make([]CampaignRecord, 0, len(rows))
		for _, r := range rows {
			campaigns = append(campaigns, CampaignFromRow(r))
		}
		next, err := fn(campaigns)
		if err != nil {
			return nil, err
		}
		out := make([]Row, 0, len(next))
		for _, c := range next {
			out = append(out, c.ToRow())
		}
		return out, nil
	})
}

func UpdateDomains(ctx context.Context, s RecordStore, fn func([]DomainRecord) ([]DomainRecord, error)) error {
	return Update(ctx, s, Domains, func(rows []Row) ([]Row, error) {
		domains := make([]DomainRecord, 0, len(rows))
		for _, r := range rows {
			domains = append(domains, DomainFromRow(r))
		}
		next, err := fn(domains)
		if err != nil {
			return nil, err
		}
		out := make([]Row, 0, len(next))
		for _, d := range next {
			out = append(out, d.ToRow())
		}
		return out, nil
	})
}
