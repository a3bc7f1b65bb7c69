package mdatp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mfittko/vlad/internal/edr"
	"go.uber.org/zap"
)

// statuses is the machine action vocabulary. A vendor-side TimeOut is a
// definite failure of the action, not a poll timeout.
var statuses = edr.StatusMap{
	"Pending":    edr.StatusQueued,
	"InProgress": edr.StatusRunning,
	"Succeeded":  edr.StatusSucceeded,
	"Failed":     edr.StatusFailed,
	"TimeOut":    edr.StatusFailed,
	"Cancelled":  edr.StatusCanceled,
	"Canceled":   edr.StatusCanceled,
}

type param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type command struct {
	Type   string  `json:"type"`
	Params []param `json:"params"`
}

type liveResponseRequest struct {
	Commands []command `json:"Commands"`
	Comment  string    `json:"Comment"`
}

type actionDTO struct {
	ID        string       `json:"id"`
	Status    string       `json:"status"`
	MachineID string       `json:"machineId"`
	Commands  []commandDTO `json:"commands"`
}

type commandDTO struct {
	Index         int    `json:"index"`
	CommandStatus string `json:"commandStatus"`
	Command       struct {
		Type string `json:"type"`
	} `json:"command"`
}

func (d actionDTO) apply(a *edr.RemoteAction) {
	if d.ID != "" {
		a.ID = d.ID
	}
	if d.MachineID != "" {
		a.MachineID = d.MachineID
	}
	a.RawStatus = d.Status
	a.Status = statuses.Parse(d.Status)
	if len(d.Commands) > 0 {
		a.CommandIndex = d.Commands[0].Index
		a.CommandStatus = d.Commands[0].CommandStatus
		if t := d.Commands[0].Command.Type; t != "" {
			a.Type = edr.ActionType(t)
		}
	}
}

// PutFile stages a library file onto the machine.
func (a *Adapter) PutFile(ctx context.Context, s *edr.Session, machineID string, file edr.LibraryFile) (*edr.RemoteAction, error) {
	return a.submit(ctx, s, machineID, edr.ActionPutFile, "FileName", file.Name, "put file")
}

// RunScript runs a library script on the machine.
func (a *Adapter) RunScript(ctx context.Context, s *edr.Session, machineID string, file edr.LibraryFile) (*edr.RemoteAction, error) {
	return a.submit(ctx, s, machineID, edr.ActionRunScript, "ScriptName", file.Name, "run script")
}

// CollectFile asks the machine to upload remotePath.
func (a *Adapter) CollectFile(ctx context.Context, s *edr.Session, machineID, remotePath string) (*edr.RemoteAction, error) {
	return a.submit(ctx, s, machineID, edr.ActionCollectFile, "Path", remotePath, "collect file")
}

func (a *Adapter) submit(ctx context.Context, s *edr.Session, machineID string, typ edr.ActionType, key, value, op string) (*edr.RemoteAction, error) {
	body := liveResponseRequest{
		Commands: []command{{Type: string(typ), Params: []param{{Key: key, Value: value}}}},
		Comment:  edr.ActionComment,
	}
	req := a.http.R(ctx, s.Token).SetHeader("Content-Type", "application/json").SetBody(body)
	u := s.BaseURL + "/api/machines/" + url.PathEscape(machineID) + "/runliveresponse"
	resp, err := a.http.Do(req, http.MethodPost, u, op)
	if err != nil {
		return nil, err
	}

	var dto actionDTO
	if err := decode(resp, op, &dto); err != nil {
		return nil, err
	}
	if dto.ID == "" {
		return nil, &edr.Error{Kind: edr.KindProtocol, Vendor: Name, Op: op, Body: "response carried no action id"}
	}

	action := &edr.RemoteAction{MachineID: machineID, Type: typ, Target: value}
	dto.apply(action)
	action.Type = typ
	a.logger.Info("live response action submitted",
		zap.String("action_id", action.ID),
		zap.String("type", string(typ)),
		zap.Int("http_status", resp.StatusCode()))
	return action, nil
}

// GetAction refreshes the action's status and command details. It reads the
// action by ID rather than filtering the machine's actions by status, which
// would also match actions other operators submitted.
func (a *Adapter) GetAction(ctx context.Context, s *edr.Session, action edr.RemoteAction) (*edr.RemoteAction, error) {
	var dto actionDTO
	if err := a.get(ctx, s, s.BaseURL+"/api/machineactions/"+url.PathEscape(action.ID), "get action", &dto); err != nil {
		return nil, err
	}
	updated := action
	dto.apply(&updated)
	return &updated, nil
}

// CancelPending cancels every action still Pending on the machine, whoever
// submitted it, then waits for the API to accept new actions again.
func (a *Adapter) CancelPending(ctx context.Context, s *edr.Session, machineID string) error {
	var page struct {
		Value []actionDTO `json:"value"`
	}
	req := a.http.R(ctx, s.Token).
		SetQueryParam("$filter", fmt.Sprintf("machineId eq '%s' and status eq 'Pending'", machineID))
	resp, err := a.http.Do(req, http.MethodGet, s.BaseURL+"/api/machineactions", "list pending actions")
	if err != nil {
		return err
	}
	if err := decode(resp, "list pending actions", &page); err != nil {
		return err
	}
	if len(page.Value) == 0 {
		a.logger.Info("no pending actions", zap.String("machine_id", machineID))
		return nil
	}

	for _, pending := range page.Value {
		body := map[string]string{
			"Comment": fmt.Sprintf("%s cancelled id %s", edr.ActionComment, pending.ID),
		}
		req := a.http.R(ctx, s.Token).SetHeader("Content-Type", "application/json").SetBody(body)
		u := s.BaseURL + "/api/machineactions/" + url.PathEscape(pending.ID) + "/cancel"
		if _, err := a.http.Do(req, http.MethodPost, u, "cancel action"); err != nil {
			return fmt.Errorf("cancel pending action %s: %w", pending.ID, err)
		}
		a.logger.Info("pending action canceled", zap.String("action_id", pending.ID))
	}
	return a.clock.Sleep(ctx, a.cancelSettle)
}
