package tmv1

import (
	"context"
	"iter"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mfittko/vlad/internal/edr"
	"github.com/tidwall/gjson"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// pageSize is the largest page the endpoint inventory accepts.
	pageSize = 50
	// endpointQuery restricts the inventory to platforms live response
	// can reach.
	endpointQuery = "(osName eq 'Windows') or (osName eq 'Linux') or (osName eq 'macOS') or (osName eq 'macOSX')"
	notAvailable  = "N/A"
)

// lastSeenLayouts are the timestamp shapes seen in loginAccount.updatedDateTime.
var lastSeenLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
}

func parseLastSeen(raw string) (time.Time, bool) {
	for _, layout := range lastSeenLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// machine maps one inventory or endpoint security record. The platform does
// not report onboarding health, so it is derived from the last login: a
// machine seen within edr.StaleAfter is active and onboarded.
func (a *Adapter) machine(item gjson.Result) edr.Machine {
	m := edr.Machine{
		ID:          firstString(item, "agentGuid"),
		Name:        firstString(item, "endpointName"),
		Platform:    cases.Title(language.Und).String(firstString(item, "osName", "os.name", "osPlatform")),
		IP:          firstString(item, "ip", "lastUsedIp"),
		LastSeenRaw: firstString(item, "loginAccount.updatedDateTime", "lastConnectedDateTime"),
	}
	if m.IP == "" || strings.Contains(m.IP, ":") {
		m.IP = notAvailable
	}

	m.HealthStatus, m.OnboardingStatus = "Inactive", "Inactive"
	if t, ok := parseLastSeen(m.LastSeenRaw); ok {
		m.LastSeen = t
		if a.clock.Now().Sub(t) <= edr.StaleAfter {
			m.HealthStatus, m.OnboardingStatus = "Active", "Onboarded"
		}
	}
	return m
}

// ListMachines walks the endpoint inventory page by page. Records without a
// protection manager are duplicates the inventory reports for the same agent
// and are skipped.
func (a *Adapter) ListMachines(ctx context.Context, s *edr.Session, filter edr.MachineFilter) iter.Seq2[edr.Machine, error] {
	return func(yield func(edr.Machine, error) bool) {
		headers := map[string]string{"TMV1-Query": endpointQuery}
		next := s.BaseURL + "/v3.0/eiqs/endpoints?top=" + strconv.Itoa(pageSize)
		for next != "" {
			page, err := a.getJSON(ctx, s, next, "list machines", headers)
			if err != nil {
				yield(edr.Machine{}, err)
				return
			}
			items := page.Get("items").Array()
			if len(items) == 0 {
				return
			}
			for _, item := range items {
				if unwrap(item.Get("protectionManager")).String() == "" {
					continue
				}
				m := a.machine(item)
				if !filter.Match(m) {
					continue
				}
				if !yield(m, nil) {
					return
				}
			}
			next = page.Get("nextLink").String()
		}
	}
}

// GetMachine fetches one endpoint by agent GUID.
func (a *Adapter) GetMachine(ctx context.Context, s *edr.Session, machineID string) (*edr.Machine, error) {
	item, err := a.getJSON(ctx, s, s.BaseURL+"/v3.0/endpointSecurity/endpoints/"+url.PathEscape(machineID), "get machine", nil)
	if err != nil {
		return nil, err
	}
	m := a.machine(item)
	if m.ID == "" {
		m.ID = machineID
	}
	return &m, nil
}
