// Package cadets maps FreeBSD CADETS audit traces into the provenance graph.
//
// A trace is newline-delimited JSON (optionally a JSON array dump). Audit
// records carry per-host UUIDs for processes, threads and objects; Update
// rewrites them into globally unique UUIDs scoped by the record's host
// before any identity is resolved. FBT records are accepted and ignored.
package cadets

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/pvm/internal/graph"
	"github.com/roach88/pvm/internal/ir"
	"github.com/roach88/pvm/internal/mapping"
	"github.com/roach88/pvm/internal/registry"
)

// Type names.
const (
	TypeProcess = "process"
	TypeFile    = "file"
	TypeSocket  = "socket"
	TypePipe    = "pipe"
	TypePtty    = "ptty"
	ContextType = "cadets_context"
)

// ConcreteTypes are the node schemas registered by Init.
//
// Only cmdline is required: every process is declared with it, while the
// credential properties are learned from later set*id events.
var ConcreteTypes = []ir.ConcreteType{
	{Name: TypeProcess, Category: ir.Actor, Props: map[string]bool{
		"euid": false, "ruid": false, "suid": false,
		"egid": false, "rgid": false, "sgid": false,
		"pid": false, "cmdline": true, "login_name": false,
	}},
	{Name: TypeFile, Category: ir.Store, Props: map[string]bool{
		"owner_uid": false, "owner_gid": false, "mode": false,
	}},
	{Name: TypeSocket, Category: ir.Conduit, Props: map[string]bool{}},
	{Name: TypePipe, Category: ir.Conduit, Props: map[string]bool{}},
	{Name: TypePtty, Category: ir.Conduit, Props: map[string]bool{
		"owner_uid": false, "owner_gid": false, "mode": false,
	}},
}

// Context is the context schema registered by Init.
var Context = ir.ContextType{
	Name: ContextType,
	Keys: []string{"time", "event", "host", "trace_offset"},
}

// Format implements mapping.Format.
type Format struct{}

// Name implements mapping.Format.
func (Format) Name() string { return "cadets" }

// Init implements mapping.Format.
func (Format) Init(reg *registry.Registry) error {
	for _, ct := range ConcreteTypes {
		if err := reg.RegisterConcreteType(ct); err != nil {
			return fmt.Errorf("register %s: %w", ct.Name, err)
		}
	}
	if err := reg.RegisterContextType(Context); err != nil {
		return fmt.Errorf("register %s: %w", Context.Name, err)
	}
	return nil
}

// Decode implements mapping.Format. Records carrying so_uuid are FBT
// events; everything else is an audit event.
func (Format) Decode(line []byte) (mapping.Mapped, error) {
	if bytes.Contains(line, []byte(`"so_uuid"`)) {
		var e FBTEvent
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("decode fbt event: %w", err)
		}
		return &e, nil
	}
	var e AuditEvent
	if err := json.Unmarshal(line, &e); err != nil {
		return nil, fmt.Errorf("decode audit event: %w", err)
	}
	return &e, nil
}

// AuditEvent is one CADETS audit record.
type AuditEvent struct {
	Event        string     `json:"event"`
	Time         int64      `json:"time"`
	PID          int32      `json:"pid"`
	PPID         int32      `json:"ppid"`
	TID          int32      `json:"tid"`
	UID          int32      `json:"uid"`
	Exec         string     `json:"exec"`
	Retval       int64      `json:"retval"`
	SubjProcUUID uuid.UUID  `json:"subjprocuuid"`
	SubjThrUUID  uuid.UUID  `json:"subjthruuid"`
	Host         *uuid.UUID `json:"host,omitempty"`

	FD      *int32  `json:"fd,omitempty"`
	CPUID   *int32  `json:"cpu_id,omitempty"`
	Cmdline *string `json:"cmdline,omitempty"`
	UPath1  *string `json:"upath1,omitempty"`
	UPath2  *string `json:"upath2,omitempty"`
	Flags   *int32  `json:"flags,omitempty"`
	FDPath  *string `json:"fdpath,omitempty"`

	ArgObjUUID1 *uuid.UUID `json:"arg_objuuid1,omitempty"`
	ArgObjUUID2 *uuid.UUID `json:"arg_objuuid2,omitempty"`
	RetObjUUID1 *uuid.UUID `json:"ret_objuuid1,omitempty"`
	RetObjUUID2 *uuid.UUID `json:"ret_objuuid2,omitempty"`
	RetFD1      *int32     `json:"ret_fd1,omitempty"`
	RetFD2      *int32     `json:"ret_fd2,omitempty"`

	ArgMemFlags     []string `json:"arg_mem_flags,omitempty"`
	ArgSharingFlags []string `json:"arg_sharing_flags,omitempty"`

	Address *string `json:"address,omitempty"`
	Port    *uint16 `json:"port,omitempty"`

	ArgUID  *int64  `json:"arg_uid,omitempty"`
	ArgEUID *int64  `json:"arg_euid,omitempty"`
	ArgRUID *int64  `json:"arg_ruid,omitempty"`
	ArgSUID *int64  `json:"arg_suid,omitempty"`
	ArgGID  *int64  `json:"arg_gid,omitempty"`
	ArgEGID *int64  `json:"arg_egid,omitempty"`
	ArgRGID *int64  `json:"arg_rgid,omitempty"`
	ArgSGID *int64  `json:"arg_sgid,omitempty"`
	Login   *string `json:"login,omitempty"`
	Mode    *uint32 `json:"mode,omitempty"`

	offset *uint64
}

// SetOffset implements mapping.OffsetSetter.
func (e *AuditEvent) SetOffset(offset uint64) {
	e.offset = &offset
}

// Update implements mapping.Updater. Records without a host are left
// unmodified and fail in Process.
func (e *AuditEvent) Update() error {
	if e.Host != nil {
		*e = Globalize(*e, *e.Host)
	}
	return nil
}

// Globalize returns a copy of e whose process, thread and object UUIDs are
// replaced by UUIDv5(host, id), so identifiers generated independently on
// different hosts cannot collide.
func Globalize(e AuditEvent, host uuid.UUID) AuditEvent {
	scope := func(u uuid.UUID) uuid.UUID {
		return uuid.NewSHA1(host, u[:])
	}
	scopeOpt := func(u *uuid.UUID) *uuid.UUID {
		if u == nil {
			return nil
		}
		g := scope(*u)
		return &g
	}
	e.SubjProcUUID = scope(e.SubjProcUUID)
	e.SubjThrUUID = scope(e.SubjThrUUID)
	e.ArgObjUUID1 = scopeOpt(e.ArgObjUUID1)
	e.ArgObjUUID2 = scopeOpt(e.ArgObjUUID2)
	e.RetObjUUID1 = scopeOpt(e.RetObjUUID1)
	e.RetObjUUID2 = scopeOpt(e.RetObjUUID2)
	return e
}

// contextValues builds the transaction context for the record.
func (e *AuditEvent) contextValues() (map[string]string, error) {
	if e.Host == nil {
		return nil, ir.NewMissingFieldError(e.Event, "host")
	}
	values := map[string]string{
		"event": e.Event,
		"host":  e.Host.String(),
		"time":  time.Unix(0, e.Time).UTC().Format(time.RFC3339Nano),
	}
	if e.offset != nil {
		values["trace_offset"] = strconv.FormatUint(*e.offset, 10)
	}
	return values, nil
}

// Process implements mapping.Mapped. The subject process is declared
// first, with its executable and pid as initial properties, and the
// event is then dispatched on its name.
func (e *AuditEvent) Process(g mapping.Opener) error {
	values, err := e.contextValues()
	if err != nil {
		return err
	}
	return mapping.Apply(g, ContextType, values, func(tx *graph.Txn) error {
		pro, err := tx.DefineWith(TypeProcess, e.SubjProcUUID.String(), map[string]string{
			"cmdline": e.Exec,
			"pid":     strconv.FormatInt(int64(e.PID), 10),
		})
		if err != nil {
			return err
		}
		return auditActions.Dispatch(e.Event, subject{e: e, pro: pro}, tx)
	})
}

// FBTEvent is a CADETS function-boundary-tracing record.
type FBTEvent struct {
	Event  string    `json:"event"`
	Host   uuid.UUID `json:"host"`
	Time   int64     `json:"time"`
	SoUUID uuid.UUID `json:"so_uuid"`
	LPort  int32     `json:"lport"`
	FPort  int32     `json:"fport"`
	LAddr  string    `json:"laddr"`
	FAddr  string    `json:"faddr"`
}

// Process implements mapping.Mapped. FBT events carry no provenance.
func (e *FBTEvent) Process(mapping.Opener) error {
	return nil
}
