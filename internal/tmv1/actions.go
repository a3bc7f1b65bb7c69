package tmv1

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/mfittko/vlad/internal/edr"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// statuses is the response task vocabulary. Tasks waiting for an approver
// have not started yet.
var statuses = edr.StatusMap{
	"queued":          edr.StatusQueued,
	"waitForApproval": edr.StatusQueued,
	"running":         edr.StatusRunning,
	"succeeded":       edr.StatusSucceeded,
	"failed":          edr.StatusFailed,
	"rejected":        edr.StatusRejected,
	"canceled":        edr.StatusCanceled,
	"cancelled":       edr.StatusCanceled,
}

type runScriptItem struct {
	AgentGUID   string `json:"agentGuid"`
	FileName    string `json:"fileName"`
	Description string `json:"description"`
	Parameter   string `json:"parameter"`
}

type collectFileItem struct {
	AgentGUID   string `json:"agentGuid"`
	FilePath    string `json:"filePath"`
	Description string `json:"description"`
}

// PutFile is not offered: the custom scripts library only holds scripts.
func (a *Adapter) PutFile(context.Context, *edr.Session, string, edr.LibraryFile) (*edr.RemoteAction, error) {
	return nil, edr.Unsupported(Name, "put file")
}

// CancelPending is not offered by the response API.
func (a *Adapter) CancelPending(context.Context, *edr.Session, string) error {
	return edr.Unsupported(Name, "cancel pending actions")
}

// RunScript runs a custom script on the endpoint.
func (a *Adapter) RunScript(ctx context.Context, s *edr.Session, machineID string, file edr.LibraryFile) (*edr.RemoteAction, error) {
	body := []runScriptItem{{
		AgentGUID:   machineID,
		FileName:    file.Name,
		Description: fmt.Sprintf("%s Remote Execution of %s", edr.OwnershipTag, file.Name),
	}}
	action := &edr.RemoteAction{MachineID: machineID, Type: edr.ActionRunScript, Target: file.Name}
	return a.dispatch(ctx, s, "/v3.0/response/endpoints/runScript", body, "run script", action)
}

// CollectFile asks the endpoint to upload remotePath into a password
// protected archive.
func (a *Adapter) CollectFile(ctx context.Context, s *edr.Session, machineID, remotePath string) (*edr.RemoteAction, error) {
	body := []collectFileItem{{
		AgentGUID:   machineID,
		FilePath:    remotePath,
		Description: fmt.Sprintf("%s Remote Download of %s", edr.OwnershipTag, remotePath),
	}}
	action := &edr.RemoteAction{MachineID: machineID, Type: edr.ActionCollectFile, Target: remotePath}
	return a.dispatch(ctx, s, "/v3.0/response/endpoints/collectFile", body, "collect file", action)
}

// dispatch submits a one-item batch. The API answers 207 with a status per
// item; the submission only counts when every item was accepted.
func (a *Adapter) dispatch(ctx context.Context, s *edr.Session, p string, body any, op string, action *edr.RemoteAction) (*edr.RemoteAction, error) {
	req := a.http.R(ctx, s.Token).SetHeader("Content-Type", "application/json;charset=utf-8").SetBody(body)
	resp, err := a.http.Do(req, http.MethodPost, s.BaseURL+p, op)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusMultiStatus {
		a.logger.Debug("batch answered without multi-status", zap.Int("http_status", resp.StatusCode()))
	}

	items, err := parse(resp.Body(), op)
	if err != nil {
		return nil, err
	}
	if !items.IsArray() || len(items.Array()) == 0 {
		return nil, &edr.Error{Kind: edr.KindProtocol, Vendor: Name, Op: op, Body: "expected a multi-status array"}
	}
	for _, item := range items.Array() {
		if err := itemError(item, op); err != nil {
			return nil, err
		}
	}

	id := taskID(items.Array()[0])
	if id == "" {
		return nil, &edr.Error{Kind: edr.KindProtocol, Vendor: Name, Op: op, Body: "response carried no task id"}
	}
	action.ID = id
	action.Status = edr.StatusQueued
	action.RawStatus = "queued"
	a.logger.Info("response task submitted", zap.String("task_id", id), zap.String("type", string(action.Type)))
	return action, nil
}

// itemError classifies one multi-status entry. Only 200, 201 and 202 count
// as accepted.
func itemError(item gjson.Result, op string) error {
	status := int(item.Get("status").Int())
	switch status {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		return nil
	case http.StatusForbidden:
		return &edr.Error{Kind: edr.KindPermission, Vendor: Name, Op: op, StatusCode: status,
			Body: "access denied, check the API permissions of this client"}
	}
	msg := item.Get("body.error.message").String()
	if msg == "" {
		msg = item.Raw
	}
	return &edr.Error{Kind: edr.KindRejected, Vendor: Name, Op: op, StatusCode: status, Body: msg}
}

// taskID extracts the task ID from the Operation-Location header carried
// inside a multi-status item.
func taskID(item gjson.Result) string {
	for _, h := range item.Get("headers").Array() {
		if strings.EqualFold(h.Get("name").String(), "Operation-Location") {
			return path.Base(h.Get("value").String())
		}
	}
	return ""
}

// GetAction refreshes a response task and records where its result archive
// can be downloaded once it has succeeded.
func (a *Adapter) GetAction(ctx context.Context, s *edr.Session, action edr.RemoteAction) (*edr.RemoteAction, error) {
	task, err := a.getJSON(ctx, s, s.BaseURL+"/v3.0/response/tasks/"+url.PathEscape(action.ID), "get action", nil)
	if err != nil {
		return nil, err
	}
	updated := action
	updated.RawStatus = task.Get("status").String()
	updated.Status = statuses.Parse(updated.RawStatus)
	if loc := task.Get("resourceLocation").String(); loc != "" {
		updated.ResultLocation = loc
	}
	if pw := task.Get("password").String(); pw != "" {
		updated.ResultPassword = pw
	}
	return &updated, nil
}
