package interactions

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectolinq"

	"github.com/Ramsey-B/fern/pkg/identity"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// Checkin is a dated facility entry attributed to a customer
type Checkin struct {
	RecordID    string
	CustomerID  string
	At          time.Time
	Location    string
	EntryMethod string
}

// Transfer is a parsed pass transfer with both sides resolved where possible
type Transfer struct {
	ParsedTransfer
	CheckinID   string
	At          time.Time
	Location    string
	UserID      string
	PurchaserID string
}

// PurchaserKey groups transfers by purchaser: the resolved customer, else the normalized name
func (t Transfer) PurchaserKey() string {
	if t.PurchaserID != "" {
		return t.PurchaserID
	}
	return "name:" + normalizers.NormalizeName(t.PurchaserName)
}

// Member is one rostered customer on a membership
type Member struct {
	InternalID string
	CustomerID string
	number     int64
	numeric    bool
}

// Roster is a membership whose members resolved to customers
type Roster struct {
	MembershipID string
	Name         string
	Size         string
	StartedAt    time.Time
	Members      []Member
}

// Input is the prepared view of a run every strategy reads from
type Input struct {
	Checkins  []Checkin
	Transfers []Transfer
	Rosters   []Roster
	// Purchases holds each customer's purchase event times in ascending order
	Purchases map[string][]time.Time
}

// HasPurchaseWithin reports whether the customer purchased something in [at-lookback, at]
func (in *Input) HasPurchaseWithin(customerID string, at time.Time, lookback time.Duration) bool {
	times := in.Purchases[customerID]
	start := at.Add(-lookback)
	i := sort.Search(len(times), func(i int) bool { return !times[i].Before(start) })
	return i < len(times) && !times[i].After(at)
}

// prepare resolves raw records into the strategy input, collecting record-level rejections
func prepare(batch *models.RawBatch, events []models.Event, index *identity.Index, opts Options) (*Input, []models.Rejection) {
	in := &Input{Purchases: make(map[string][]time.Time)}
	var rejections []models.Rejection
	reject := func(source, recordID string, reason models.RejectionReason, detail string) {
		rejections = append(rejections, models.Rejection{Stage: Stage, Source: source, RecordID: recordID, Reason: reason, Detail: detail})
	}

	for _, e := range events {
		if e.EventType.IsPurchase() {
			in.Purchases[e.CustomerID] = append(in.Purchases[e.CustomerID], e.EventDate)
		}
	}
	for id := range in.Purchases {
		times := in.Purchases[id]
		sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	}

	cutoff := lookbackCutoff(batch.FacilityEntries, opts.LookbackDays)

	for _, f := range batch.FacilityEntries {
		if f.DateErr != nil {
			reject(f.SourceSystem, f.RecordID, models.RejectionUnparseableDate, f.DateErr.Error())
			continue
		}
		if !cutoff.IsZero() && f.EnteredAt.Before(cutoff) {
			continue
		}
		customerID, _, ok := index.LookupEntrant(f.SourceSystem, f.InternalID, f.FirstName, f.LastName)
		if !ok {
			reject(f.SourceSystem, f.RecordID, models.RejectionUnresolvedCustomer, f.InternalID)
			continue
		}

		in.Checkins = append(in.Checkins, Checkin{
			RecordID:    f.RecordID,
			CustomerID:  customerID,
			At:          f.EnteredAt,
			Location:    f.Location,
			EntryMethod: f.EntryMethod,
		})

		if !IsTransferCandidate(f.EntryMethodDescription) {
			continue
		}
		guest := ectolinq.Contains(opts.GuestEntryMethods, strings.ToUpper(strings.TrimSpace(f.EntryMethod)))
		parsed, ok := ParseTransfer(f.EntryMethodDescription, guest)
		if !ok {
			// the free-text format is a monitored assumption: count every miss
			reject(f.SourceSystem, f.RecordID, models.RejectionPassTransferUnparsed, f.EntryMethodDescription)
			continue
		}

		transfer := Transfer{
			ParsedTransfer: parsed,
			CheckinID:      f.RecordID,
			At:             f.EnteredAt,
			Location:       f.Location,
			UserID:         customerID,
		}
		if purchaser, _, ok := index.LookupName(normalizers.NormalizeFullName(parsed.PurchaserName, "")); ok {
			transfer.PurchaserID = purchaser
		} else {
			// the transfer still groups recipients by name, but the purchaser edge is lost
			reject(f.SourceSystem, f.RecordID, models.RejectionUnresolvedPurchaser, parsed.PurchaserName)
		}
		in.Transfers = append(in.Transfers, transfer)
	}

	for _, m := range batch.Memberships {
		if !ectolinq.Contains(opts.MembershipSizes, strings.ToLower(m.Size)) {
			continue
		}
		if m.DateErr != nil {
			reject(m.SourceSystem, m.MembershipID, models.RejectionUnparseableDate, m.DateErr.Error())
			continue
		}
		roster := Roster{MembershipID: m.MembershipID, Name: m.Name, Size: m.Size, StartedAt: m.StartedAt}
		for _, member := range m.MemberInternalIDs {
			link, ok := index.Lookup(models.IdentifierTypeInternalID, normalizers.NormalizeInternalID(m.SourceSystem, member))
			if !ok {
				reject(m.SourceSystem, m.MembershipID+"#"+member, models.RejectionUnresolvedMember, member)
				continue
			}
			n, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimSpace(member), ".0"), 10, 64)
			roster.Members = append(roster.Members, Member{
				InternalID: member,
				CustomerID: link.CustomerID,
				number:     n,
				numeric:    err == nil,
			})
		}
		in.Rosters = append(in.Rosters, roster)
	}

	return in, rejections
}

// lookbackCutoff returns the earliest entry time to consider, or zero when unbounded
func lookbackCutoff(entries []models.RawFacilityEntry, days int) time.Time {
	if days <= 0 {
		return time.Time{}
	}
	var newest time.Time
	for _, f := range entries {
		if f.DateErr == nil && f.EnteredAt.After(newest) {
			newest = f.EnteredAt
		}
	}
	if newest.IsZero() {
		return time.Time{}
	}
	return newest.AddDate(0, 0, -days)
}
