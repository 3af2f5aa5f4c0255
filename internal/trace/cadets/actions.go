package cadets

import (
	"net"
	"slices"
	"strconv"

	"github.com/google/uuid"

	"github.com/roach88/pvm/internal/graph"
	"github.com/roach88/pvm/internal/ir"
	"github.com/roach88/pvm/internal/mapping"
)

// subject is an audit event together with the handle of its subject process.
type subject struct {
	e   *AuditEvent
	pro ir.NodeID
}

const unknownPath = "<unknown>"

var auditActions = mapping.Table[subject]{
	"audit:event:aue_accept:":       accept,
	"audit:event:aue_bind:":         bind,
	"audit:event:aue_chdir:":        chdir,
	"audit:event:aue_fchdir:":       chdir,
	"audit:event:aue_chmod:":        chmod,
	"audit:event:aue_fchmodat:":     chmod,
	"audit:event:aue_chown:":        chown,
	"audit:event:aue_close:":        closeFile,
	"audit:event:aue_connect:":      connect,
	"audit:event:aue_execve:":       execve,
	"audit:event:aue_exit:":         mapping.Ignore[subject],
	"audit:event:aue_fork:":         fork,
	"audit:event:aue_pdfork:":       fork,
	"audit:event:aue_vfork:":        fork,
	"audit:event:aue_fchmod:":       fchmod,
	"audit:event:aue_fchown:":       fchown,
	"audit:event:aue_link:":         link,
	"audit:event:aue_listen:":       listen,
	"audit:event:aue_mmap:":         mmap,
	"audit:event:aue_open_rwtc:":    open,
	"audit:event:aue_openat_rwtc:":  open,
	"audit:event:aue_pipe:":         pipe,
	"audit:event:aue_posix_openpt:": openpt,
	"audit:event:aue_read:":         read,
	"audit:event:aue_pread:":        read,
	"audit:event:aue_recvmsg:":      recv,
	"audit:event:aue_recvfrom:":     recv,
	"audit:event:aue_rename:":       rename,
	"audit:event:aue_sendmsg:":      send,
	"audit:event:aue_sendto:":       send,
	"audit:event:aue_setegid:":      setegid,
	"audit:event:aue_seteuid:":      seteuid,
	"audit:event:aue_setlogin:":     setlogin,
	"audit:event:aue_setgid:":       setgid,
	"audit:event:aue_setregid:":     setregid,
	"audit:event:aue_setresgid:":    setresgid,
	"audit:event:aue_setresuid:":    setresuid,
	"audit:event:aue_setreuid:":     setreuid,
	"audit:event:aue_setuid:":       setuid,
	"audit:event:aue_socket:":       socket,
	"audit:event:aue_socketpair:":   socketpair,
	"audit:event:aue_unlink:":       unlink,
	"audit:event:aue_write:":        write,
	"audit:event:aue_pwrite:":       write,
	"audit:event:aue_writev:":       write,
	"audit:event:aue_dup2:":         mapping.Ignore[subject],
}

// Actions returns the audit event names this format maps.
func Actions() []string {
	return auditActions.Actions()
}

func (s subject) missing(field string) error {
	return ir.NewMissingFieldError(s.e.Event, field)
}

func (s subject) uuidField(field string, u *uuid.UUID) (string, error) {
	if u == nil {
		return "", s.missing(field)
	}
	return u.String(), nil
}

func (s subject) stringField(field string, v *string) (string, error) {
	if v == nil {
		return "", s.missing(field)
	}
	return *v, nil
}

func (s subject) intField(field string, v *int64) (int64, error) {
	if v == nil {
		return 0, s.missing(field)
	}
	return *v, nil
}

// declareNamed defines a node and names it.
func declareNamed(tx *graph.Txn, typ, id, name string) (ir.NodeID, error) {
	n, err := tx.Define(typ, id)
	if err != nil {
		return 0, err
	}
	return n, tx.Name(n, name)
}

// sockName is upath1 for local sockets, or address:port for network ones.
func (s subject) sockName() (string, bool, error) {
	if s.e.UPath1 != nil {
		return *s.e.UPath1, true, nil
	}
	if s.e.Port != nil {
		if s.e.Address == nil {
			return "", false, s.missing("address")
		}
		return net.JoinHostPort(*s.e.Address, strconv.FormatUint(uint64(*s.e.Port), 10)), true, nil
	}
	return "", false, nil
}

func (s subject) requireSockName() (string, error) {
	name, ok, err := s.sockName()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", s.missing("upath1, port")
	}
	return name, nil
}

// bytes is the transfer size of a read or write; failed calls move nothing.
func (s subject) bytes() int64 {
	return max(s.e.Retval, 0)
}

func execve(s subject, tx *graph.Txn) error {
	cmdline, err := s.stringField("cmdline", s.e.Cmdline)
	if err != nil {
		return err
	}
	binID, err := s.uuidField("arg_objuuid1", s.e.ArgObjUUID1)
	if err != nil {
		return err
	}
	binName, err := s.stringField("upath1", s.e.UPath1)
	if err != nil {
		return err
	}
	bin, err := declareNamed(tx, TypeFile, binID, binName)
	if err != nil {
		return err
	}
	if err := tx.Meta(s.pro, "cmdline", cmdline); err != nil {
		return err
	}
	if err := tx.Source(bin, s.pro); err != nil {
		return err
	}

	if s.e.ArgObjUUID2 == nil {
		return nil
	}
	ldName, err := s.stringField("upath2", s.e.UPath2)
	if err != nil {
		return err
	}
	ld, err := declareNamed(tx, TypeFile, s.e.ArgObjUUID2.String(), ldName)
	if err != nil {
		return err
	}
	return tx.Source(ld, s.pro)
}

func fork(s subject, tx *graph.Txn) error {
	childID, err := s.uuidField("ret_objuuid1", s.e.RetObjUUID1)
	if err != nil {
		return err
	}
	ch, err := tx.Derive(s.pro, childID)
	if err != nil {
		return err
	}
	if err := tx.Meta(ch, "pid", strconv.FormatInt(s.e.Retval, 10)); err != nil {
		return err
	}
	return tx.Source(s.pro, ch)
}

func open(s subject, tx *graph.Txn) error {
	if s.e.RetObjUUID1 == nil {
		return nil
	}
	name, err := s.stringField("upath1", s.e.UPath1)
	if err != nil {
		return err
	}
	_, err = declareNamed(tx, TypeFile, s.e.RetObjUUID1.String(), name)
	return err
}

// fdFile defines the file behind arg_objuuid1, named after fdpath when known.
func (s subject) fdFile(tx *graph.Txn) (ir.NodeID, error) {
	id, err := s.uuidField("arg_objuuid1", s.e.ArgObjUUID1)
	if err != nil {
		return 0, err
	}
	f, err := tx.Define(TypeFile, id)
	if err != nil {
		return 0, err
	}
	if s.e.FDPath != nil && *s.e.FDPath != unknownPath {
		if err := tx.Name(f, *s.e.FDPath); err != nil {
			return 0, err
		}
	}
	return f, nil
}

func read(s subject, tx *graph.Txn) error {
	f, err := s.fdFile(tx)
	if err != nil {
		return err
	}
	return tx.SourceN(f, s.pro, s.bytes())
}

func write(s subject, tx *graph.Txn) error {
	f, err := s.fdFile(tx)
	if err != nil {
		return err
	}
	return tx.SinkN(s.pro, f, s.bytes())
}

// closeFile declares the closed file. Write sessions are not tracked, so
// close adds no edge.
func closeFile(s subject, tx *graph.Txn) error {
	if s.e.ArgObjUUID1 == nil {
		return nil
	}
	_, err := tx.Define(TypeFile, s.e.ArgObjUUID1.String())
	return err
}

func socket(s subject, tx *graph.Txn) error {
	id, err := s.uuidField("ret_objuuid1", s.e.RetObjUUID1)
	if err != nil {
		return err
	}
	_, err = tx.Define(TypeSocket, id)
	return err
}

func listen(s subject, tx *graph.Txn) error {
	id, err := s.uuidField("arg_objuuid1", s.e.ArgObjUUID1)
	if err != nil {
		return err
	}
	_, err = tx.Define(TypeSocket, id)
	return err
}

// bind and connect name the socket in arg_objuuid1.
func bind(s subject, tx *graph.Txn) error {
	id, err := s.uuidField("arg_objuuid1", s.e.ArgObjUUID1)
	if err != nil {
		return err
	}
	name, err := s.requireSockName()
	if err != nil {
		return err
	}
	_, err = declareNamed(tx, TypeSocket, id, name)
	return err
}

func connect(s subject, tx *graph.Txn) error {
	return bind(s, tx)
}

func accept(s subject, tx *graph.Txn) error {
	listenID, err := s.uuidField("arg_objuuid1", s.e.ArgObjUUID1)
	if err != nil {
		return err
	}
	remoteID, err := s.uuidField("ret_objuuid1", s.e.RetObjUUID1)
	if err != nil {
		return err
	}
	if _, err := tx.Define(TypeSocket, listenID); err != nil {
		return err
	}
	name, err := s.requireSockName()
	if err != nil {
		return err
	}
	_, err = declareNamed(tx, TypeSocket, remoteID, name)
	return err
}

// msgSocket defines the socket in arg_objuuid1, naming it when the record
// carries a peer address.
func (s subject) msgSocket(tx *graph.Txn) (ir.NodeID, error) {
	id, err := s.uuidField("arg_objuuid1", s.e.ArgObjUUID1)
	if err != nil {
		return 0, err
	}
	sock, err := tx.Define(TypeSocket, id)
	if err != nil {
		return 0, err
	}
	name, ok, err := s.sockName()
	if err != nil {
		return 0, err
	}
	if ok {
		if err := tx.Name(sock, name); err != nil {
			return 0, err
		}
	}
	return sock, nil
}

func send(s subject, tx *graph.Txn) error {
	sock, err := s.msgSocket(tx)
	if err != nil {
		return err
	}
	return tx.SinkN(s.pro, sock, s.bytes())
}

func recv(s subject, tx *graph.Txn) error {
	sock, err := s.msgSocket(tx)
	if err != nil {
		return err
	}
	return tx.SourceN(sock, s.pro, s.bytes())
}

func mmap(s subject, tx *graph.Txn) error {
	id, err := s.uuidField("arg_objuuid1", s.e.ArgObjUUID1)
	if err != nil {
		return err
	}
	f, err := tx.Define(TypeFile, id)
	if err != nil {
		return err
	}
	if s.e.FDPath != nil {
		if err := tx.Name(f, *s.e.FDPath); err != nil {
			return err
		}
	}
	if s.e.ArgMemFlags == nil {
		return nil
	}
	if slices.Contains(s.e.ArgMemFlags, "PROT_WRITE") && !slices.Contains(s.e.ArgSharingFlags, "MAP_PRIVATE") {
		if err := tx.Sink(s.pro, f); err != nil {
			return err
		}
	}
	if slices.Contains(s.e.ArgMemFlags, "PROT_READ") {
		return tx.Source(f, s.pro)
	}
	return nil
}

// connectPair declares two conduits from ret_objuuid1/2 and joins them.
func (s subject) connectPair(tx *graph.Txn, typ string) error {
	id1, err := s.uuidField("ret_objuuid1", s.e.RetObjUUID1)
	if err != nil {
		return err
	}
	id2, err := s.uuidField("ret_objuuid2", s.e.RetObjUUID2)
	if err != nil {
		return err
	}
	a, err := tx.Define(typ, id1)
	if err != nil {
		return err
	}
	b, err := tx.Define(typ, id2)
	if err != nil {
		return err
	}
	return tx.Connect(a, b)
}

func socketpair(s subject, tx *graph.Txn) error {
	return s.connectPair(tx, TypeSocket)
}

func pipe(s subject, tx *graph.Txn) error {
	return s.connectPair(tx, TypePipe)
}

func chdir(s subject, tx *graph.Txn) error {
	id, err := s.uuidField("arg_objuuid1", s.e.ArgObjUUID1)
	if err != nil {
		return err
	}
	d, err := tx.Define(TypeFile, id)
	if err != nil {
		return err
	}
	if s.e.UPath1 != nil {
		return tx.Name(d, *s.e.UPath1)
	}
	return nil
}

func (s subject) modeString() (string, error) {
	if s.e.Mode == nil {
		return "", s.missing("mode")
	}
	return strconv.FormatUint(uint64(*s.e.Mode), 8), nil
}

func chmod(s subject, tx *graph.Txn) error {
	id, err := s.uuidField("arg_objuuid1", s.e.ArgObjUUID1)
	if err != nil {
		return err
	}
	path, err := s.stringField("upath1", s.e.UPath1)
	if err != nil {
		return err
	}
	mode, err := s.modeString()
	if err != nil {
		return err
	}
	f, err := tx.Define(TypeFile, id)
	if err != nil {
		return err
	}
	if err := tx.Meta(f, "mode", mode); err != nil {
		return err
	}
	if err := tx.Name(f, path); err != nil {
		return err
	}
	return tx.Sink(s.pro, f)
}

func fchmod(s subject, tx *graph.Txn) error {
	id, err := s.uuidField("arg_objuuid1", s.e.ArgObjUUID1)
	if err != nil {
		return err
	}
	mode, err := s.modeString()
	if err != nil {
		return err
	}
	f, err := tx.Define(TypeFile, id)
	if err != nil {
		return err
	}
	if err := tx.Meta(f, "mode", mode); err != nil {
		return err
	}
	return tx.Sink(s.pro, f)
}

// setOwner stages owner_uid and owner_gid from arg_uid and arg_gid.
func (s subject) setOwner(tx *graph.Txn, f ir.NodeID) error {
	uid, err := s.intField("arg_uid", s.e.ArgUID)
	if err != nil {
		return err
	}
	gid, err := s.intField("arg_gid", s.e.ArgGID)
	if err != nil {
		return err
	}
	if err := tx.Meta(f, "owner_uid", strconv.FormatInt(uid, 10)); err != nil {
		return err
	}
	return tx.Meta(f, "owner_gid", strconv.FormatInt(gid, 10))
}

func chown(s subject, tx *graph.Txn) error {
	id, err := s.uuidField("arg_objuuid1", s.e.ArgObjUUID1)
	if err != nil {
		return err
	}
	path, err := s.stringField("upath1", s.e.UPath1)
	if err != nil {
		return err
	}
	f, err := tx.Define(TypeFile, id)
	if err != nil {
		return err
	}
	if err := s.setOwner(tx, f); err != nil {
		return err
	}
	if err := tx.Name(f, path); err != nil {
		return err
	}
	return tx.Sink(s.pro, f)
}

func fchown(s subject, tx *graph.Txn) error {
	id, err := s.uuidField("arg_objuuid1", s.e.ArgObjUUID1)
	if err != nil {
		return err
	}
	f, err := tx.Define(TypeFile, id)
	if err != nil {
		return err
	}
	if err := s.setOwner(tx, f); err != nil {
		return err
	}
	return tx.Sink(s.pro, f)
}

func openpt(s subject, tx *graph.Txn) error {
	id, err := s.uuidField("ret_objuuid1", s.e.RetObjUUID1)
	if err != nil {
		return err
	}
	_, err = tx.Define(TypePtty, id)
	return err
}

func link(s subject, tx *graph.Txn) error {
	id, err := s.uuidField("arg_objuuid1", s.e.ArgObjUUID1)
	if err != nil {
		return err
	}
	oldPath, err := s.stringField("upath1", s.e.UPath1)
	if err != nil {
		return err
	}
	newPath, err := s.stringField("upath2", s.e.UPath2)
	if err != nil {
		return err
	}
	f, err := declareNamed(tx, TypeFile, id, oldPath)
	if err != nil {
		return err
	}
	return tx.Name(f, newPath)
}

func rename(s subject, tx *graph.Txn) error {
	id, err := s.uuidField("arg_objuuid1", s.e.ArgObjUUID1)
	if err != nil {
		return err
	}
	src, err := s.stringField("upath1", s.e.UPath1)
	if err != nil {
		return err
	}
	dst, err := s.stringField("upath2", s.e.UPath2)
	if err != nil {
		return err
	}
	f, err := tx.Define(TypeFile, id)
	if err != nil {
		return err
	}
	if err := tx.Unname(f, src); err != nil {
		return err
	}
	if s.e.ArgObjUUID2 != nil {
		overwritten, err := tx.Define(TypeFile, s.e.ArgObjUUID2.String())
		if err != nil {
			return err
		}
		if err := tx.Unname(overwritten, dst); err != nil {
			return err
		}
	}
	return tx.Name(f, dst)
}

func unlink(s subject, tx *graph.Txn) error {
	id, err := s.uuidField("arg_objuuid1", s.e.ArgObjUUID1)
	if err != nil {
		return err
	}
	path, err := s.stringField("upath1", s.e.UPath1)
	if err != nil {
		return err
	}
	f, err := tx.Define(TypeFile, id)
	if err != nil {
		return err
	}
	return tx.Unname(f, path)
}

type idProp struct {
	key string
	v   int64
}

// setIDs stages credential properties, skipping -1 ("unchanged").
func (s subject) setIDs(tx *graph.Txn, props ...idProp) error {
	for _, p := range props {
		if p.v == -1 {
			continue
		}
		if err := tx.Meta(s.pro, p.key, strconv.FormatInt(p.v, 10)); err != nil {
			return err
		}
	}
	return nil
}

func setuid(s subject, tx *graph.Txn) error {
	uid, err := s.intField("arg_uid", s.e.ArgUID)
	if err != nil {
		return err
	}
	return s.setIDs(tx, idProp{"euid", uid}, idProp{"ruid", uid}, idProp{"suid", uid})
}

func seteuid(s subject, tx *graph.Txn) error {
	euid, err := s.intField("arg_euid", s.e.ArgEUID)
	if err != nil {
		return err
	}
	return s.setIDs(tx, idProp{"euid", euid})
}

func setreuid(s subject, tx *graph.Txn) error {
	ruid, err := s.intField("arg_ruid", s.e.ArgRUID)
	if err != nil {
		return err
	}
	euid, err := s.intField("arg_euid", s.e.ArgEUID)
	if err != nil {
		return err
	}
	return s.setIDs(tx, idProp{"ruid", ruid}, idProp{"euid", euid})
}

func setresuid(s subject, tx *graph.Txn) error {
	ruid, err := s.intField("arg_ruid", s.e.ArgRUID)
	if err != nil {
		return err
	}
	euid, err := s.intField("arg_euid", s.e.ArgEUID)
	if err != nil {
		return err
	}
	suid, err := s.intField("arg_suid", s.e.ArgSUID)
	if err != nil {
		return err
	}
	return s.setIDs(tx, idProp{"ruid", ruid}, idProp{"euid", euid}, idProp{"suid", suid})
}

func setgid(s subject, tx *graph.Txn) error {
	gid, err := s.intField("arg_gid", s.e.ArgGID)
	if err != nil {
		return err
	}
	return s.setIDs(tx, idProp{"egid", gid}, idProp{"rgid", gid}, idProp{"sgid", gid})
}

func setegid(s subject, tx *graph.Txn) error {
	egid, err := s.intField("arg_egid", s.e.ArgEGID)
	if err != nil {
		return err
	}
	return s.setIDs(tx, idProp{"egid", egid})
}

func setregid(s subject, tx *graph.Txn) error {
	rgid, err := s.intField("arg_rgid", s.e.ArgRGID)
	if err != nil {
		return err
	}
	egid, err := s.intField("arg_egid", s.e.ArgEGID)
	if err != nil {
		return err
	}
	return s.setIDs(tx, idProp{"rgid", rgid}, idProp{"egid", egid})
}

func setresgid(s subject, tx *graph.Txn) error {
	rgid, err := s.intField("arg_rgid", s.e.ArgRGID)
	if err != nil {
		return err
	}
	egid, err := s.intField("arg_egid", s.e.ArgEGID)
	if err != nil {
		return err
	}
	sgid, err := s.intField("arg_sgid", s.e.ArgSGID)
	if err != nil {
		return err
	}
	return s.setIDs(tx, idProp{"rgid", rgid}, idProp{"egid", egid}, idProp{"sgid", sgid})
}

func setlogin(s subject, tx *graph.Txn) error {
	login, err := s.stringField("login", s.e.Login)
	if err != nil {
		return err
	}
	return tx.Meta(s.pro, "login_name", login)
}
