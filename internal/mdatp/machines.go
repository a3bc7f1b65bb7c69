package mdatp

import (
	"context"
	"iter"
	"net/url"
	"time"

	"github.com/mfittko/vlad/internal/edr"
)

type machineDTO struct {
	ID               string `json:"id"`
	ComputerDNSName  string `json:"computerDnsName"`
	OSPlatform       string `json:"osPlatform"`
	LastIPAddress    string `json:"lastIpAddress"`
	LastSeen         string `json:"lastSeen"`
	HealthStatus     string `json:"healthStatus"`
	OnboardingStatus string `json:"onboardingStatus"`
}

type machinePage struct {
	Value    []machineDTO `json:"value"`
	NextLink string       `json:"@odata.nextLink"`
}

func (d machineDTO) machine() edr.Machine {
	m := edr.Machine{
		ID:               d.ID,
		Name:             d.ComputerDNSName,
		Platform:         d.OSPlatform,
		IP:               d.LastIPAddress,
		LastSeenRaw:      d.LastSeen,
		HealthStatus:     d.HealthStatus,
		OnboardingStatus: d.OnboardingStatus,
	}
	if t, err := time.Parse(time.RFC3339Nano, d.LastSeen); err == nil {
		m.LastSeen = t
	}
	return m
}

// ListMachines follows @odata.nextLink until the API stops returning one or
// returns an empty page. Each page is requested only when the previous one
// has been consumed.
func (a *Adapter) ListMachines(ctx context.Context, s *edr.Session, filter edr.MachineFilter) iter.Seq2[edr.Machine, error] {
	return func(yield func(edr.Machine, error) bool) {
		next := s.BaseURL + "/api/machines"
		for next != "" {
			var page machinePage
			if err := a.get(ctx, s, next, "list machines", &page); err != nil {
				yield(edr.Machine{}, err)
				return
			}
			if len(page.Value) == 0 {
				return
			}
			for _, dto := range page.Value {
				m := dto.machine()
				if !filter.Match(m) {
					continue
				}
				if !yield(m, nil) {
					return
				}
			}
			next = page.NextLink
		}
	}
}

// GetMachine fetches one machine by its Defender machine ID.
func (a *Adapter) GetMachine(ctx context.Context, s *edr.Session, machineID string) (*edr.Machine, error) {
	var dto machineDTO
	if err := a.get(ctx, s, s.BaseURL+"/api/machines/"+url.PathEscape(machineID), "get machine", &dto); err != nil {
		return nil, err
	}
	m := dto.machine()
	return &m, nil
}
