package ipc

import (
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/synkhq/synk/internal/coreerr"
	"github.com/synkhq/synk/internal/launch"
	"github.com/synkhq/synk/internal/pairing"
	"github.com/synkhq/synk/internal/session"
	"github.com/synkhq/synk/internal/snapshot"
)

// pairingExemptMethods are honored before a connection has presented a
// valid pairing credential, per spec §6.
var pairingExemptMethods = map[string]bool{
	"pairing.issue":        true,
	"pairing.verify":       true,
	"pairing.authenticate": true,
}

func (s *Server) dispatch(conn *connection, req Request) Response {
	if !pairingExemptMethods[req.Method] && !conn.authorized {
		return errorResponse(req.ID, string(coreerr.InvalidArgument), pairing.ErrPairingRequired.Error())
	}

	switch req.Method {
	case "pairing.issue":
		return s.handlePairingIssue(req)
	case "pairing.verify":
		return s.handlePairingVerify(conn, req)
	case "pairing.authenticate":
		return s.handlePairingAuthenticate(conn, req)
	case "session.create":
		return s.handleSessionCreate(req)
	case "session.destroy":
		return s.handleSessionDestroy(req)
	case "session.write":
		return s.handleSessionWrite(req)
	case "session.resize":
		return s.handleSessionResize(req)
	case "session.list":
		return resultResponse(req.ID, s.mgr.List())
	case "snapshot.save_named":
		return s.handleSnapshotSaveNamed(req)
	case "snapshot.save_autosave":
		return s.handleSnapshotSaveAutosave(req)
	case "snapshot.load":
		return s.handleSnapshotLoad(req)
	case "snapshot.apply":
		return s.handleSnapshotApply(req)
	case "agents.list":
		return resultResponse(req.ID, launch.DetectInstalled())
	default:
		return errorResponse(req.ID, string(coreerr.InvalidArgument), "unrecognized method: "+req.Method)
	}
}

func (s *Server) handlePairingIssue(req Request) Response {
	code, err := s.pair.IssuePairingCode()
	if err != nil {
		return errorResponse(req.ID, string(coreerr.InvalidArgument), err.Error())
	}
	return resultResponse(req.ID, map[string]string{
		"code": code.UserCode,
		"url":  "synk://pair/" + s.hubID + "?code=" + code.UserCode,
	})
}

func (s *Server) handlePairingVerify(conn *connection, req Request) Response {
	var params struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, string(coreerr.InvalidArgument), "malformed params")
	}

	cred, err := s.pair.VerifyPairing(params.Code)
	if err != nil {
		return errorResponse(req.ID, string(coreerr.InvalidArgument), err.Error())
	}
	conn.authorized = true
	conn.credential = cred
	return resultResponse(req.ID, map[string]string{"credential": cred})
}

func (s *Server) handlePairingAuthenticate(conn *connection, req Request) Response {
	var params struct {
		Credential string `json:"credential"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, string(coreerr.InvalidArgument), "malformed params")
	}
	if !s.pair.Authorized(params.Credential) {
		return errorResponse(req.ID, string(coreerr.InvalidArgument), pairing.ErrPairingInvalid.Error())
	}
	conn.authorized = true
	conn.credential = params.Credential
	return resultResponse(req.ID, map[string]bool{"ack": true})
}

func (s *Server) handleSessionCreate(req Request) Response {
	var params struct {
		AgentKind     string            `json:"agentKind"`
		ProjectPath   string            `json:"projectPath"`
		Branch        string            `json:"branch"`
		WorkingDir    string            `json:"workingDir"`
		Model         string            `json:"model"`
		Env           map[string]string `json:"env"`
		CodexProvider string            `json:"codexProvider"`
		Skills        []string          `json:"skills"`
		MCPServers    []string          `json:"mcpServers"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, string(coreerr.InvalidArgument), "malformed params")
	}

	res, err := s.mgr.Create(session.CreateArgs{
		AgentKind:     session.AgentKind(params.AgentKind),
		ProjectPath:   params.ProjectPath,
		BranchLabel:   params.Branch,
		WorkingDir:    params.WorkingDir,
		Model:         params.Model,
		CodexProvider: params.CodexProvider,
		EnvOverrides:  params.Env,
		Skills:        params.Skills,
		MCPServers:    params.MCPServers,
	})
	if err != nil {
		return toErrorResponse(req.ID, err)
	}

	result := map[string]interface{}{
		"sessionId": res.SessionID,
		"paneIndex": res.PaneIndex,
	}
	if res.Warning != "" {
		result["warning"] = res.Warning
	}
	return resultResponse(req.ID, result)
}

func (s *Server) handleSessionDestroy(req Request) Response {
	var params struct {
		SessionID int64 `json:"sessionId"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, string(coreerr.InvalidArgument), "malformed params")
	}
	if err := s.mgr.Destroy(params.SessionID); err != nil {
		return toErrorResponse(req.ID, err)
	}
	return resultResponse(req.ID, map[string]bool{"success": true})
}

func (s *Server) handleSessionWrite(req Request) Response {
	var params struct {
		SessionID int64  `json:"sessionId"`
		DataB64   string `json:"dataB64"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, string(coreerr.InvalidArgument), "malformed params")
	}
	data, err := base64.StdEncoding.DecodeString(params.DataB64)
	if err != nil {
		return errorResponse(req.ID, string(coreerr.InvalidArgument), "dataB64 is not valid base64")
	}
	if err := s.mgr.Write(params.SessionID, data); err != nil {
		return toErrorResponse(req.ID, err)
	}
	return resultResponse(req.ID, map[string]bool{"ack": true})
}

func (s *Server) handleSessionResize(req Request) Response {
	var params struct {
		SessionID int64  `json:"sessionId"`
		Cols      uint16 `json:"cols"`
		Rows      uint16 `json:"rows"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, string(coreerr.InvalidArgument), "malformed params")
	}
	if err := s.mgr.Resize(params.SessionID, params.Cols, params.Rows); err != nil {
		return toErrorResponse(req.ID, err)
	}
	return resultResponse(req.ID, map[string]bool{"ack": true})
}

func (s *Server) handleSnapshotSaveNamed(req Request) Response {
	var params struct {
		Name string `json:"name"`
		Mode string `json:"mode"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, string(coreerr.InvalidArgument), "malformed params")
	}
	res, err := s.engine.SaveNamed(s.currentProjectPath(), params.Name, params.Mode)
	if err != nil {
		return toErrorResponse(req.ID, err)
	}
	return resultResponse(req.ID, map[string]string{"id": res.ID, "layout": res.Layout})
}

func (s *Server) handleSnapshotSaveAutosave(req Request) Response {
	s.engine.SaveAutosave(s.currentProjectPath(), "manual")
	return resultResponse(req.ID, map[string]bool{"ack": true})
}

func (s *Server) handleSnapshotLoad(req Request) Response {
	var params struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, string(coreerr.InvalidArgument), "malformed params")
	}
	snap, err := s.engine.Load(params.ID)
	if err != nil {
		return toErrorResponse(req.ID, err)
	}
	return resultResponse(req.ID, snap)
}

func (s *Server) handleSnapshotApply(req Request) Response {
	var params struct {
		Snapshot snapshot.Snapshot `json:"snapshot"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, string(coreerr.InvalidArgument), "malformed snapshot")
	}

	res, err := s.engine.Apply(params.Snapshot, s.currentProjectPath())
	if err != nil {
		return toErrorResponse(req.ID, err)
	}
	return resultResponse(req.ID, map[string]interface{}{"warnings": res.Warnings})
}

// toErrorResponse converts a typed coreerr.Error into the wire error
// shape; any other error is reported as IoError with its message.
func toErrorResponse(id string, err error) Response {
	var ce *coreerr.Error
	if errors.As(err, &ce) {
		return errorResponse(id, string(ce.Kind), ce.Message)
	}
	return errorResponse(id, string(coreerr.IoError), err.Error())
}
