package rpcapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bwks/sherpa-sub001/internal/authsvc"
	"github.com/bwks/sherpa-sub001/internal/catalog"
	"github.com/bwks/sherpa-sub001/internal/config"
	"github.com/bwks/sherpa-sub001/internal/ifreg"
	"github.com/bwks/sherpa-sub001/internal/pipeline"
	"github.com/bwks/sherpa-sub001/internal/topology"
	"github.com/bwks/sherpa-sub001/pkg/util"
)

// ImageImporter is the container half of image.import (the VM half goes
// through a plain file copy to Layout.ImageDiskPath).
type ImageImporter interface {
	PullImage(ctx context.Context, ref string) error
}

// Session is the identity attached to a request after token validation.
type Session struct {
	Username string
	IsAdmin  bool
}

// handlerFunc is one method's implementation. sess is nil for auth.login.
type handlerFunc func(ctx context.Context, r *Router, sess *Session, params json.RawMessage) (interface{}, error)

// authRequirement controls what Router.Dispatch checks before invoking a
// handler (§4.J's Auth column).
type authRequirement int

const (
	authNone authRequirement = iota
	authToken
	authOwnership
	// authOwnershipOrGone is authOwnership except a missing lab_id is
	// treated as already torn down rather than as NotFound, so a second
	// destroy on the same lab_id is idempotent instead of erroring.
	authOwnershipOrGone
	authAdmin
)

type methodEntry struct {
	handler handlerFunc
	auth    authRequirement
}

// Router dispatches JSON-RPC requests to Sherpa's fixed method table.
type Router struct {
	Catalog    *catalog.Store
	Pipeline   *pipeline.Pipeline
	Tokens     *authsvc.TokenIssuer
	Layout     config.Layout
	Containers ImageImporter
	methods    map[string]methodEntry
}

func NewRouter(store *catalog.Store, pipe *pipeline.Pipeline, tokens *authsvc.TokenIssuer, layout config.Layout, containers ImageImporter) *Router {
	r := &Router{Catalog: store, Pipeline: pipe, Tokens: tokens, Layout: layout, Containers: containers}
	r.methods = map[string]methodEntry{
		"auth.login":    {handleLogin, authNone},
		"auth.validate": {handleValidateToken, authToken},
		"up":            {handleUp, authOwnership},
		"down":          {handleDown, authOwnership},
		"resume":        {handleResume, authOwnership},
		"destroy":       {handleDestroy, authOwnershipOrGone},
		"clean":         {handleClean, authAdmin},
		"inspect":       {handleInspect, authOwnership},
		"image.list":    {handleImageList, authToken},
		"image.import":  {handleImageImport, authAdmin},
	}
	return r
}

// Dispatch validates the token (when required) and ownership (when the
// method needs it, by inspecting a lab_id field in params), then invokes
// the method handler. It never panics: handler errors are converted to
// *Error via NewError.
func (r *Router) Dispatch(ctx context.Context, req Request, token string) Response {
	entry, ok := r.methods[req.Method]
	if !ok {
		return Response{ID: req.ID, Error: &Error{Code: CodeMethodNotFound, Message: "unknown method: " + req.Method}}
	}

	var sess *Session
	if entry.auth != authNone {
		if token == "" {
			return Response{ID: req.ID, Error: &Error{Code: CodeAuthRequired, Message: "token required"}}
		}
		claims, err := r.Tokens.Validate(token)
		if err != nil {
			return Response{ID: req.ID, Error: &Error{Code: CodeAuthInvalid, Message: "invalid or expired token"}}
		}
		sess = &Session{Username: claims.Subject, IsAdmin: claims.IsAdmin}
	}

	if entry.auth == authAdmin && (sess == nil || !sess.IsAdmin) {
		return Response{ID: req.ID, Error: &Error{Code: CodeAccessDenied, Message: "admin access required"}}
	}

	if entry.auth == authOwnership || entry.auth == authOwnershipOrGone {
		if err := r.checkOwnership(sess, req.Params); err != nil {
			if entry.auth == authOwnershipOrGone && errors.Is(err, util.ErrNotFound) {
				// lab already gone; let the handler return its idempotent
				// empty-success summary instead of erroring here.
			} else {
				return Response{ID: req.ID, Error: NewError(err)}
			}
		}
	}

	result, err := entry.handler(ctx, r, sess, req.Params)
	if err != nil {
		return Response{ID: req.ID, Error: NewError(err)}
	}
	return Response{ID: req.ID, Result: result}
}

func (r *Router) checkOwnership(sess *Session, params json.RawMessage) error {
	var p struct {
		LabID string `json:"lab_id"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.LabID == "" {
		return util.NewValidationError("missing lab_id")
	}
	if sess.IsAdmin {
		return nil
	}
	lab, err := r.Catalog.GetLab(p.LabID)
	if err != nil {
		return err
	}
	if lab.Owner != sess.Username {
		return util.NewAccessDeniedError(sess.Username, "Lab:"+p.LabID)
	}
	return nil
}

func decodeParams(params json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(params, v); err != nil {
		return util.NewValidationError("invalid params: " + err.Error())
	}
	return nil
}

// --- handlers ---

func handleLogin(ctx context.Context, r *Router, sess *Session, params json.RawMessage) (interface{}, error) {
	var p struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	user, err := r.Catalog.GetUser(p.Username)
	if err != nil {
		return nil, util.ErrAuthInvalid
	}
	if !authsvc.CheckPassword(p.Password, user.PasswordHash) {
		return nil, util.ErrAuthInvalid
	}
	token, err := r.Tokens.Mint(user.Username, user.IsAdmin)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"token": token, "username": user.Username, "is_admin": user.IsAdmin,
	}, nil
}

func handleValidateToken(ctx context.Context, r *Router, sess *Session, params json.RawMessage) (interface{}, error) {
	return map[string]interface{}{
		"valid": true, "username": sess.Username, "is_admin": sess.IsAdmin,
	}, nil
}

func handleUp(ctx context.Context, r *Router, sess *Session, params json.RawMessage) (interface{}, error) {
	var p struct {
		LabID    string `json:"lab_id"`
		Manifest string `json:"manifest"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	manifest, err := topology.ParseManifest([]byte(p.Manifest))
	if err != nil {
		return nil, util.NewValidationError(err.Error())
	}
	return r.Pipeline.Up(ctx, pipeline.UpRequest{LabID: p.LabID, Owner: sess.Username, Manifest: manifest})
}

func handleDown(ctx context.Context, r *Router, sess *Session, params json.RawMessage) (interface{}, error) {
	var p struct {
		LabID string `json:"lab_id"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return r.Pipeline.Destroy(ctx, p.LabID, sess.Username, sess.IsAdmin)
}

func handleResume(ctx context.Context, r *Router, sess *Session, params json.RawMessage) (interface{}, error) {
	var p struct {
		LabID string `json:"lab_id"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return r.Pipeline.Resume(ctx, p.LabID, sess.Username)
}

func handleDestroy(ctx context.Context, r *Router, sess *Session, params json.RawMessage) (interface{}, error) {
	var p struct {
		LabID string `json:"lab_id"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return r.Pipeline.Destroy(ctx, p.LabID, sess.Username, sess.IsAdmin)
}

func handleClean(ctx context.Context, r *Router, sess *Session, params json.RawMessage) (interface{}, error) {
	var p struct {
		LabID string `json:"lab_id"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.LabID == "" {
		return r.Pipeline.SweepOrphanedLabs(ctx)
	}
	return r.Pipeline.Clean(ctx, p.LabID), nil
}

func handleInspect(ctx context.Context, r *Router, sess *Session, params json.RawMessage) (interface{}, error) {
	var p struct {
		LabID string `json:"lab_id"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	lab, err := r.Catalog.GetLab(p.LabID)
	if err != nil {
		return nil, err
	}
	nodes, err := r.Catalog.ListNodesByLab(p.LabID)
	if err != nil {
		return nil, err
	}
	links, err := r.Catalog.ListLinksByLab(p.LabID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"lab": lab, "nodes": nodes, "links": links}, nil
}

func handleImageList(ctx context.Context, r *Router, sess *Session, params json.RawMessage) (interface{}, error) {
	var p struct {
		Model string `json:"model"`
		Kind  string `json:"kind"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	images, err := r.Catalog.ListImages(ifreg.Model(p.Model), catalog.ImageKind(p.Kind))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"images": images}, nil
}

// handleImageImport brings a disk image or container reference under
// catalog management. VM-kind models (anything except the container
// families) are imported by copying src to the model/version disk path
// Layout computes for the pipeline; container-kind models pull src as an
// image reference through the container engine instead.
func handleImageImport(ctx context.Context, r *Router, sess *Session, params json.RawMessage) (interface{}, error) {
	var p struct {
		Model   string `json:"model"`
		Version string `json:"version"`
		Src     string `json:"src"`
		Latest  bool   `json:"latest"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	model := ifreg.Model(p.Model)
	if !model.IsValid() {
		return nil, util.NewValidationError("unknown model: " + p.Model)
	}
	if p.Version == "" {
		return nil, util.NewValidationError("version is required")
	}

	kind := imageKindForSrc(p.Src)
	img := &catalog.NodeImage{Model: model, Version: p.Version, Kind: kind, IsDefault: p.Latest}

	var imagePath string
	switch kind {
	case catalog.ImageContainer:
		if r.Containers == nil {
			return nil, util.NewValidationError("container engine unavailable")
		}
		if err := r.Containers.PullImage(ctx, p.Src); err != nil {
			return nil, err
		}
		img.ContainerRepo = p.Src
		imagePath = p.Src
	default:
		dst := r.Layout.ImageDiskPath(p.Model, p.Version)
		if err := copyFile(p.Src, dst); err != nil {
			return nil, err
		}
		imagePath = dst
	}

	id, err := r.Catalog.CreateImage(img)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"success":    true,
		"model":      p.Model,
		"kind":       string(kind),
		"version":    p.Version,
		"image_path": imagePath,
		"db_tracked": true,
		"id":         id,
	}, nil
}

// imageKindForSrc infers the catalog ImageKind from src's shape. A
// filesystem path (absolute or relative, or ending in a known disk
// extension) is a VM image; anything else is treated as a container
// registry reference.
func imageKindForSrc(src string) catalog.ImageKind {
	if strings.HasPrefix(src, "/") || strings.HasPrefix(src, "./") || strings.HasPrefix(src, "../") {
		return catalog.ImageVM
	}
	switch filepath.Ext(src) {
	case ".qcow2", ".img", ".raw":
		return catalog.ImageVM
	}
	return catalog.ImageContainer
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		os.Remove(dst)
		return err
	}
	return out.Close()
}
