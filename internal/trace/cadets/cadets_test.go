package cadets

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pvm/internal/graph"
	"github.com/roach88/pvm/internal/ir"
	"github.com/roach88/pvm/internal/mapping"
	"github.com/roach88/pvm/internal/testutil"
)

var (
	hostA = uuid.MustParse("3f1a6b8e-0000-4000-8000-00000000000a")
	hostB = uuid.MustParse("3f1a6b8e-0000-4000-8000-00000000000b")
	proc1 = uuid.MustParse("11111111-1111-4111-8111-111111111111")
	proc2 = uuid.MustParse("22222222-2222-4222-8222-222222222222")
	file1 = uuid.MustParse("aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaaa")
	file2 = uuid.MustParse("bbbbbbbb-bbbb-4bbb-8bbb-bbbbbbbbbbbb")
)

func newTestGraph(t *testing.T) *graph.Graph {
	return testutil.NewGraph(t, []mapping.Format{Format{}})
}

// process runs one record at offset 7.
func process(t *testing.T, g *graph.Graph, line string) error {
	t.Helper()
	return testutil.Process(t, Format{}, g, line, 7)
}

// record renders an audit record for hostA with subject proc1.
func record(event string, extra string) string {
	if extra != "" {
		extra = "," + extra
	}
	return fmt.Sprintf(`{"event":%q,"time":1500000000000000000,"pid":42,"ppid":1,"tid":100,"uid":0,`+
		`"exec":"sh","retval":0,"subjprocuuid":%q,"subjthruuid":%q,"host":%q%s}`,
		event, proc1, proc1, hostA, extra)
}

func global(host, id uuid.UUID) string {
	return uuid.NewSHA1(host, id[:]).String()
}

func lookup(t *testing.T, g *graph.Graph, typ string, id string) ir.Node {
	t.Helper()
	n, ok := g.Lookup(ir.IdentityKey{Type: typ, ExternalID: id})
	require.True(t, ok, "no %s %s", typ, id)
	return n
}

func TestGlobalizeDeterministicAndHostScoped(t *testing.T) {
	obj := file1
	e := AuditEvent{SubjProcUUID: proc1, SubjThrUUID: proc2, ArgObjUUID1: &obj}

	a1 := Globalize(e, hostA)
	a2 := Globalize(e, hostA)
	b := Globalize(e, hostB)

	assert.Equal(t, a1.SubjProcUUID, a2.SubjProcUUID)
	assert.Equal(t, *a1.ArgObjUUID1, *a2.ArgObjUUID1)
	assert.NotEqual(t, a1.SubjProcUUID, b.SubjProcUUID)
	assert.NotEqual(t, proc1, a1.SubjProcUUID)
	assert.Nil(t, a1.RetObjUUID1)

	// The input is not modified.
	assert.Equal(t, proc1, e.SubjProcUUID)
	assert.Equal(t, file1, *e.ArgObjUUID1)
}

func TestDecodeDistinguishesFBT(t *testing.T) {
	m, err := Format{}.Decode([]byte(fmt.Sprintf(
		`{"event":"fbt:kernel:cc_conn_init:","host":%q,"time":1,"so_uuid":%q,"lport":80,"fport":5000,"laddr":"10.0.0.1","faddr":"10.0.0.2"}`,
		hostA, file1)))
	require.NoError(t, err)
	_, ok := m.(*FBTEvent)
	assert.True(t, ok)

	g := newTestGraph(t)
	require.NoError(t, m.Process(g))
	assert.Empty(t, g.Nodes())

	m, err = Format{}.Decode([]byte(record("audit:event:aue_exit:", "")))
	require.NoError(t, err)
	_, ok = m.(*AuditEvent)
	assert.True(t, ok)

	_, err = Format{}.Decode([]byte(`{"event":`))
	assert.Error(t, err)
}

func TestSubjectDeclaredWithInitialProps(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, process(t, g, record("audit:event:aue_exit:", "")))

	p := lookup(t, g, TypeProcess, global(hostA, proc1))
	assert.Equal(t, ir.Actor, p.Category)
	assert.Equal(t, "sh", p.Meta["cmdline"].Value)
	assert.Equal(t, "42", p.Meta["pid"].Value)

	c, ok := g.Context(p.Ctx)
	require.True(t, ok)
	assert.Equal(t, map[string]string{
		"event":        "audit:event:aue_exit:",
		"host":         hostA.String(),
		"time":         "2017-07-14T02:40:00Z",
		"trace_offset": "7",
	}, c.Values)
}

func TestExecveSourcesBinary(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, process(t, g, record("audit:event:aue_execve:", fmt.Sprintf(
		`"cmdline":"ls -l","arg_objuuid1":%q,"upath1":"/bin/ls"`, file1))))

	p := lookup(t, g, TypeProcess, global(hostA, proc1))
	assert.Equal(t, "ls -l", p.Meta["cmdline"].Value)

	bin := lookup(t, g, TypeFile, global(hostA, file1))
	assert.Equal(t, "/bin/ls", bin.Name)

	edges := g.Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, ir.EdgeSource, edges[0].Kind)
	assert.Equal(t, bin.ID, edges[0].Src)
	assert.Equal(t, p.ID, edges[0].Dst)
}

func TestForkDerivesChild(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, process(t, g, record("audit:event:aue_fork:", fmt.Sprintf(
		`"retval":4242,"ret_objuuid1":%q`, proc2))))

	parent := lookup(t, g, TypeProcess, global(hostA, proc1))
	child := lookup(t, g, TypeProcess, global(hostA, proc2))
	assert.Equal(t, "sh", child.Meta["cmdline"].Value)
	assert.Equal(t, "4242", child.Meta["pid"].Value)

	edges := g.Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, parent.ID, edges[0].Src)
	assert.Equal(t, child.ID, edges[0].Dst)
}

func TestReadWriteAccumulateBytes(t *testing.T) {
	g := newTestGraph(t)
	read := func(n int) string {
		return record("audit:event:aue_read:", fmt.Sprintf(
			`"retval":%d,"arg_objuuid1":%q,"fdpath":"/etc/hosts"`, n, file1))
	}
	require.NoError(t, process(t, g, read(100)))
	require.NoError(t, process(t, g, read(28)))
	require.NoError(t, process(t, g, record("audit:event:aue_write:", fmt.Sprintf(
		`"retval":-1,"arg_objuuid1":%q,"fdpath":"<unknown>"`, file2))))

	f1 := lookup(t, g, TypeFile, global(hostA, file1))
	assert.Equal(t, "/etc/hosts", f1.Name)
	f2 := lookup(t, g, TypeFile, global(hostA, file2))
	assert.Empty(t, f2.Name)

	edges := g.Edges()
	require.Len(t, edges, 2)
	assert.Equal(t, ir.EdgeSource, edges[0].Kind)
	assert.Equal(t, int64(128), edges[0].Bytes)
	assert.Equal(t, ir.EdgeSink, edges[1].Kind)
	assert.Equal(t, int64(0), edges[1].Bytes)
}

func TestRenameMovesName(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, process(t, g, record("audit:event:aue_open_rwtc:", fmt.Sprintf(
		`"ret_objuuid1":%q,"upath1":"/tmp/a"`, file1))))
	require.NoError(t, process(t, g, record("audit:event:aue_rename:", fmt.Sprintf(
		`"arg_objuuid1":%q,"upath1":"/tmp/a","upath2":"/tmp/b"`, file1))))

	f := lookup(t, g, TypeFile, global(hostA, file1))
	assert.Equal(t, "/tmp/b", f.Name)
}

func TestSetuidSkipsUnchanged(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, process(t, g, record("audit:event:aue_setresuid:",
		`"arg_ruid":1000,"arg_euid":-1,"arg_suid":0`)))

	p := lookup(t, g, TypeProcess, global(hostA, proc1))
	assert.Equal(t, "1000", p.Meta["ruid"].Value)
	assert.Equal(t, "0", p.Meta["suid"].Value)
	_, ok := p.Meta["euid"]
	assert.False(t, ok)
}

func TestConnectNamesNetworkSocket(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, process(t, g, record("audit:event:aue_connect:", fmt.Sprintf(
		`"arg_objuuid1":%q,"address":"::1","port":8080`, file1))))

	s := lookup(t, g, TypeSocket, global(hostA, file1))
	assert.Equal(t, "[::1]:8080", s.Name)
	assert.Equal(t, ir.Conduit, s.Category)
}

func TestPipeConnectsEnds(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, process(t, g, record("audit:event:aue_pipe:", fmt.Sprintf(
		`"ret_objuuid1":%q,"ret_objuuid2":%q`, file1, file2))))

	edges := g.Edges()
	require.Len(t, edges, 2)
	for _, e := range edges {
		assert.Equal(t, ir.EdgeGeneric, e.Kind)
	}
}

func TestMmapDirection(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, process(t, g, record("audit:event:aue_mmap:", fmt.Sprintf(
		`"arg_objuuid1":%q,"arg_mem_flags":["PROT_READ","PROT_WRITE"],"arg_sharing_flags":["MAP_PRIVATE"]`, file1))))

	edges := g.Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, ir.EdgeSource, edges[0].Kind)
}

func TestIgnoredEventsCommitOnlySubject(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, process(t, g, record("audit:event:aue_dup2:", "")))
	assert.Len(t, g.Nodes(), 1)
	assert.Empty(t, g.Edges())
}

func TestUnknownEventRollsBack(t *testing.T) {
	g := newTestGraph(t)
	err := process(t, g, record("audit:event:aue_ptrace:", ""))
	require.Error(t, err)
	assert.True(t, ir.IsUnknownAction(err))
	assert.Empty(t, g.Nodes())
}

func TestMissingFieldRollsBack(t *testing.T) {
	g := newTestGraph(t)
	err := process(t, g, record("audit:event:aue_execve:", `"cmdline":"ls"`))
	require.Error(t, err)
	assert.True(t, ir.IsMissingField(err))
	assert.Empty(t, g.Nodes())
}

func TestMissingHost(t *testing.T) {
	g := newTestGraph(t)
	line := fmt.Sprintf(`{"event":"audit:event:aue_exit:","time":1,"pid":1,"ppid":0,"tid":1,"uid":0,"exec":"init","retval":0,"subjprocuuid":%q,"subjthruuid":%q}`,
		proc1, proc1)
	err := process(t, g, line)
	require.Error(t, err)
	assert.True(t, ir.IsMissingField(err))
}

func TestSameLocalIDOnTwoHosts(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, process(t, g, record("audit:event:aue_exit:", "")))
	other := fmt.Sprintf(`{"event":"audit:event:aue_exit:","time":1,"pid":1,"ppid":0,"tid":1,"uid":0,"exec":"init","retval":0,"subjprocuuid":%q,"subjthruuid":%q,"host":%q}`,
		proc1, proc1, hostB)
	require.NoError(t, process(t, g, other))

	assert.Len(t, g.Nodes(), 2)
	assert.Contains(t, Actions(), "audit:event:aue_execve:")
}
