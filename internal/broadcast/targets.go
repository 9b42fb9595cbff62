package broadcast

import (
	"context"
	"fmt"

	"kolpulse/internal/model"
	"kolpulse/internal/progress"
)

// resolve builds the frozen recipient set for req.
func (s *Service) resolve(ctx context.Context, req Request) ([]recipient, error) {
	kols, err := s.candidates(ctx, req)
	if err != nil {
		return nil, err
	}
	links, err := s.store.ListActiveLinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	byKOL := make(map[int64][]model.DeliveryLink)
	for _, l := range links {
		byKOL[l.KOLID] = append(byKOL[l.KOLID], l)
	}

	if req.Target == model.TargetGroup {
		return s.groupRecipients(ctx, req.Filter, kols, byKOL)
	}

	out := make([]recipient, 0, len(kols))
	for _, k := range kols {
		ls := byKOL[k.ID]
		if !anyReachable(ls) {
			continue
		}
		out = append(out, recipient{kol: k, links: ls})
	}
	return out, nil
}

// candidates returns the KOLs passing the filter, ordered by ID.
func (s *Service) candidates(ctx context.Context, req Request) ([]model.KOL, error) {
	if req.Filter == model.FilterAll {
		kols, err := s.store.ListKOLs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list kols: %w", err)
		}
		return kols, nil
	}

	kols, err := s.store.ListCampaignKOLs(ctx, req.CampaignID)
	if err != nil {
		return nil, fmt.Errorf("list campaign kols: %w", err)
	}
	if req.Filter == model.FilterCampaign {
		return kols, nil
	}

	wantMet := req.Filter == model.FilterMetKPI
	quotas, err := s.store.ListQuotas(ctx, req.CampaignID)
	if err != nil {
		return nil, fmt.Errorf("list quotas: %w", err)
	}
	byKOL := make(map[int64]model.DeliverableQuota, len(quotas))
	for _, q := range quotas {
		byKOL[q.KOLID] = q
	}

	out := kols[:0:0]
	for _, k := range kols {
		q, ok := byKOL[k.ID]
		if !ok {
			continue
		}
		posts, err := s.store.ListCampaignPosts(ctx, req.CampaignID, k.ID)
		if err != nil {
			return nil, fmt.Errorf("list posts for kol %d: %w", k.ID, err)
		}
		if progress.Compute(posts, q).MatchesKPI(wantMet) {
			out = append(out, k)
		}
	}
	return out, nil
}

// groupRecipients returns active group destinations. With a narrowing filter
// only groups where at least one matching KOL is linked are kept.
func (s *Service) groupRecipients(ctx context.Context, filter model.FilterKind, kols []model.KOL, links map[int64][]model.DeliveryLink) ([]recipient, error) {
	dests, err := s.store.ListGroupDestinations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list destinations: %w", err)
	}

	var allowed map[int64]bool
	if filter != model.FilterAll {
		allowed = make(map[int64]bool)
		for _, k := range kols {
			for _, l := range links[k.ID] {
				if !l.Private() {
					allowed[l.ChatID] = true
				}
			}
		}
	}

	out := make([]recipient, 0, len(dests))
	for _, d := range dests {
		if allowed != nil && !allowed[d.ChatID] {
			continue
		}
		out = append(out, recipient{chatID: d.ChatID})
	}
	return out, nil
}

func anyReachable(links []model.DeliveryLink) bool {
	for _, l := range links {
		if l.Reachable() {
			return true
		}
	}
	return false
}
