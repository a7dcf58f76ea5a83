package interactions

import (
	"context"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/fern/pkg/models"
)

// PassSharing emits shared_pass for every resolved entry-pass transfer and the
// reciprocal received_shared_pass when the purchaser has a recent purchase event.
type PassSharing struct {
	Lookback time.Duration
}

func (s *PassSharing) Type() string { return "pass_sharing" }

func (s *PassSharing) Extract(ctx context.Context, in *Input) ([]models.Interaction, error) {
	var out []models.Interaction
	for _, t := range in.Transfers {
		if t.Kind != TransferEntryPass || t.PurchaserID == "" || t.PurchaserID == t.UserID {
			continue
		}
		metadata := models.Attributes{
			"pass_type":      t.PassType,
			"checkin_id":     t.CheckinID,
			"purchaser_name": t.PurchaserName,
			"is_punch_pass":  t.IsPunch,
			"is_youth_pass":  t.IsYouth,
		}
		if t.Remaining != nil {
			metadata["remaining"] = *t.Remaining
		}
		out = append(out, New(models.InteractionSharedPass, t.PurchaserID, t.UserID, t.At, t.CheckinID, metadata))

		if in.HasPurchaseWithin(t.PurchaserID, t.At, s.Lookback) {
			out = append(out, New(models.InteractionReceivedSharedPass, t.UserID, t.PurchaserID, t.At, t.CheckinID, models.Attributes{
				"pass_type":  t.PassType,
				"checkin_id": t.CheckinID,
			}))
		}
	}
	return out, ctx.Err()
}

// PurchaseGroup connects every pair of recipients of one purchase
type PurchaseGroup struct{}

func (s *PurchaseGroup) Type() string { return "purchase_group" }

func (s *PurchaseGroup) Extract(ctx context.Context, in *Input) ([]models.Interaction, error) {
	type groupKey struct {
		purchaser string
		day       string
		passType  string
	}
	type group struct {
		name       string
		at         time.Time
		recipients []string
		seen       map[string]bool
	}

	groups := make(map[groupKey]*group)
	var order []groupKey
	for _, t := range in.Transfers {
		if t.Kind != TransferEntryPass {
			continue
		}
		key := groupKey{purchaser: t.PurchaserKey(), day: DayKey(t.At), passType: t.PassType}
		g, ok := groups[key]
		if !ok {
			g = &group{name: t.PurchaserName, at: t.At, seen: make(map[string]bool)}
			groups[key] = g
			order = append(order, key)
		}
		if t.UserID == t.PurchaserID || g.seen[t.UserID] {
			continue
		}
		g.seen[t.UserID] = true
		g.recipients = append(g.recipients, t.UserID)
	}

	var out []models.Interaction
	for _, key := range order {
		g := groups[key]
		if len(g.recipients) < 2 {
			continue
		}
		recipients := append([]string(nil), g.recipients...)
		sort.Strings(recipients)
		for i := 0; i < len(recipients); i++ {
			for j := i + 1; j < len(recipients); j++ {
				out = append(out, New(models.InteractionSamePurchaseGroup, recipients[i], recipients[j], g.at, key.purchaser+"|"+key.passType, models.Attributes{
					"purchaser_name": g.name,
					"pass_type":      key.passType,
					"group_size":     len(recipients),
				}))
			}
		}
	}
	return out, ctx.Err()
}

// CoPresence connects customers whose entries at one location fall within Window on the same day.
// Days are independent partitions processed in parallel.
type CoPresence struct {
	Window  time.Duration
	Workers int
}

func (s *CoPresence) Type() string { return "co_presence" }

func (s *CoPresence) Extract(ctx context.Context, in *Input) ([]models.Interaction, error) {
	byDay := make(map[string][]Checkin)
	for _, c := range in.Checkins {
		day := DayKey(c.At)
		byDay[day] = append(byDay[day], c)
	}
	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)

	results := make([][]models.Interaction, len(days))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.Workers, 1))
	for i, day := range days {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = s.day(byDay[day])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []models.Interaction
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// day scans one day's entries with a sliding window per location, keeping the first sighting of each pair
func (s *CoPresence) day(checkins []Checkin) []models.Interaction {
	byLocation := make(map[string][]Checkin)
	for _, c := range checkins {
		byLocation[c.Location] = append(byLocation[c.Location], c)
	}
	locations := make([]string, 0, len(byLocation))
	for loc := range byLocation {
		locations = append(locations, loc)
	}
	sort.Strings(locations)

	seen := make(map[[2]string]bool)
	var out []models.Interaction
	for _, loc := range locations {
		entries := byLocation[loc]
		sort.SliceStable(entries, func(i, j int) bool {
			if !entries[i].At.Equal(entries[j].At) {
				return entries[i].At.Before(entries[j].At)
			}
			return entries[i].RecordID < entries[j].RecordID
		})

		for i := range entries {
			for j := i + 1; j < len(entries); j++ {
				diff := entries[j].At.Sub(entries[i].At)
				if diff > s.Window {
					break
				}
				a, b := entries[i].CustomerID, entries[j].CustomerID
				if a == b {
					continue
				}
				pair := orderedPair(a, b)
				if seen[pair] {
					continue
				}
				seen[pair] = true
				out = append(out, New(models.InteractionSameDayCheckin, pair[0], pair[1], entries[i].At, "", models.Attributes{
					"time_diff_minutes": math.Round(diff.Minutes()*10) / 10,
					"location":          loc,
				}))
			}
		}
	}
	return out
}

// SharedMembership connects members of household-sized memberships whose internal
// ids sit within MaxGap of each other. A MaxGap of zero treats the whole roster as one household.
type SharedMembership struct {
	MaxGap int
}

func (s *SharedMembership) Type() string { return "shared_membership" }

func (s *SharedMembership) Extract(ctx context.Context, in *Input) ([]models.Interaction, error) {
	var out []models.Interaction
	for _, roster := range in.Rosters {
		for _, household := range s.households(roster.Members) {
			ids := make([]string, 0, len(household))
			customers := make([]string, 0, len(household))
			seen := make(map[string]bool)
			for _, m := range household {
				ids = append(ids, m.InternalID)
				if !seen[m.CustomerID] {
					seen[m.CustomerID] = true
					customers = append(customers, m.CustomerID)
				}
			}
			sort.Strings(customers)
			for i := 0; i < len(customers); i++ {
				for j := i + 1; j < len(customers); j++ {
					out = append(out, New(models.InteractionFamilyMembership, customers[i], customers[j], roster.StartedAt, roster.MembershipID, models.Attributes{
						"membership_id":   roster.MembershipID,
						"membership_name": roster.Name,
						"member_ids":      ids,
					}))
				}
			}
		}
	}
	return out, ctx.Err()
}

// households splits a roster into runs of proximate internal ids
func (s *SharedMembership) households(members []Member) [][]Member {
	if len(members) < 2 {
		return nil
	}
	if s.MaxGap <= 0 {
		return [][]Member{members}
	}

	sorted := append([]Member(nil), members...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].numeric != sorted[j].numeric {
			return sorted[i].numeric
		}
		if sorted[i].number != sorted[j].number {
			return sorted[i].number < sorted[j].number
		}
		return sorted[i].InternalID < sorted[j].InternalID
	})

	var out [][]Member
	current := []Member{sorted[0]}
	for _, m := range sorted[1:] {
		last := current[len(current)-1]
		if m.numeric && last.numeric && m.number-last.number <= int64(s.MaxGap) {
			current = append(current, m)
			continue
		}
		if len(current) >= 2 {
			out = append(out, current)
		}
		current = []Member{m}
	}
	if len(current) >= 2 {
		out = append(out, current)
	}
	return out
}

// GuestUsage emits a directed host to guest interaction for guest-allowance entries
type GuestUsage struct{}

func (s *GuestUsage) Type() string { return "guest_usage" }

func (s *GuestUsage) Extract(ctx context.Context, in *Input) ([]models.Interaction, error) {
	var out []models.Interaction
	for _, t := range in.Transfers {
		if t.Kind != TransferGuestPass || t.PurchaserID == "" || t.PurchaserID == t.UserID {
			continue
		}
		out = append(out, New(models.InteractionFrequentGuest, t.PurchaserID, t.UserID, t.At, t.CheckinID, models.Attributes{
			"source":     "guest_pass",
			"host_name":  t.PurchaserName,
			"checkin_id": t.CheckinID,
		}))
	}
	return out, ctx.Err()
}

func orderedPair(a, b string) [2]string {
	if a < b {
		return [2]string{a, b}
	}
	return [2]string{b, a}
}
