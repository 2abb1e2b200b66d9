package perforce

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"

	"github.com/chmouel/lazyscc/internal/models"
	"github.com/chmouel/lazyscc/internal/scc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakeP4 = `#!/bin/sh
if [ "$1" = "-ztag" ]; then shift; fi
key="$1"
if [ "$1" = "change" ]; then key="change$2"; fi
echo "$*" >> "$FAKE_P4_DIR/calls"
if [ "$key" = "change-i" ]; then cat > "$FAKE_P4_DIR/form"; fi
if [ -f "$FAKE_P4_DIR/$key.out" ]; then cat "$FAKE_P4_DIR/$key.out"; fi
if [ -f "$FAKE_P4_DIR/$key.err" ]; then cat "$FAKE_P4_DIR/$key.err" >&2; fi
if [ -f "$FAKE_P4_DIR/$key.code" ]; then exit "$(cat "$FAKE_P4_DIR/$key.code")"; fi
exit 0
`

type fakeServer struct {
	dir string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake p4 is a shell script")
	}
	bin := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(bin, "p4"), []byte(fakeP4), 0o700)) //nolint:gosec
	state := t.TempDir()
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
	t.Setenv("FAKE_P4_DIR", state)

	s := &fakeServer{dir: state}
	s.respond("info", `... userName me
... clientName me-ws
... clientRoot /ws
... serverAddress perforce:1666
... serverVersion P4D/LINUX26X86_64/2024.1/2596294
`, "", 0)
	return s
}

func (s *fakeServer) respond(key, stdout, stderr string, code int) {
	_ = os.WriteFile(filepath.Join(s.dir, key+".out"), []byte(stdout), 0o600)
	_ = os.WriteFile(filepath.Join(s.dir, key+".err"), []byte(stderr), 0o600)
	_ = os.WriteFile(filepath.Join(s.dir, key+".code"), []byte(strconv.Itoa(code)), 0o600)
}

func (s *fakeServer) calls(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(s.dir, "calls"))
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func initProvider(t *testing.T) *Provider {
	t.Helper()
	p := New(Options{Port: "perforce:1666", User: "me", Client: "me-ws"})
	require.NoError(t, p.Init(context.Background()))
	return p
}

func run(p *Provider, cmdType models.CommandType, files ...string) *scc.Command {
	cmd := scc.NewCommand(cmdType, files)
	cmd.Provider = p
	cmd.DoWork(context.Background())
	return cmd
}

const fstatABC = `... depotFile //depot/A.txt
... clientFile /ws/A.txt
... headAction edit
... headRev 3
... haveRev 3

... depotFile //depot/B.txt
... clientFile /ws/B.txt
... headAction edit
... headRev 5
... haveRev 5
... otherOpen0 OtherUser@other-ws
... otherAction0 edit
... otherOpen 1

... depotFile //depot/C.txt
... clientFile /ws/C.txt
... headAction add
... headRev 1
... haveRev 1
... action edit
... change default

`

func TestParseZtag(t *testing.T) {
	records := parseZtag("... a 1\n... desc line one\nline two\n\n... b 2\n")
	require.Len(t, records, 2)
	assert.Equal(t, "1", records[0]["a"])
	assert.Equal(t, "line one\nline two", records[0]["desc"])
	assert.Equal(t, "2", records[1]["b"])

	r := record{"rev0": "3", "rev1": "2", "rev3": "x"}
	assert.Equal(t, []string{"3", "2"}, r.indexed("rev"))
}

func TestStateFromFstat(t *testing.T) {
	records := parseZtag(fstatABC)
	require.Len(t, records, 3)

	kind, users := stateFromFstat(records[0])
	assert.Equal(t, models.StateReadOnly, kind)
	assert.Empty(t, users)

	kind, users = stateFromFstat(records[1])
	assert.Equal(t, models.StateCheckedOutOther, kind)
	assert.Equal(t, []string{"OtherUser"}, users)

	kind, _ = stateFromFstat(records[2])
	assert.Equal(t, models.StateCheckedOut, kind)

	kind, _ = stateFromFstat(record{"headRev": "4", "haveRev": "2"})
	assert.Equal(t, models.StateNotCurrent, kind)
	kind, _ = stateFromFstat(record{"headRev": "4", "haveRev": "4", "headAction": "move/delete"})
	assert.Equal(t, models.StateNotInDepot, kind)
	kind, _ = stateFromFstat(record{"action": "add"})
	assert.Equal(t, models.StateAdded, kind)
	kind, _ = stateFromFstat(nil)
	assert.Equal(t, models.StateNotInDepot, kind)
}

func TestIsConnectionFailure(t *testing.T) {
	assert.True(t, isConnectionFailure("Perforce client error:\n\tConnect to server failed; check $P4PORT.\n\tTCP connect to perforce:1666 failed."))
	assert.True(t, isConnectionFailure("Your session has expired, please login again."))
	assert.False(t, isConnectionFailure("//depot/A.txt - file(s) not opened on this client."))
}

func TestBuildChangeForm(t *testing.T) {
	template := `# A Perforce Change Specification.
#  Change:      The change number.

Change:	new

Client:	me-ws

User:	me

Status:	new

Description:
	<enter description here>

Files:
	//depot/A.txt	# edit
	//depot/other.txt	# edit
`
	form := buildChangeForm(template, "fix lighting\nsecond line", []string{"//depot/A.txt"})
	assert.Contains(t, form, "Change:\tnew\n")
	assert.Contains(t, form, "Client:\tme-ws\n")
	assert.Contains(t, form, "Description:\n\tfix lighting\n\tsecond line\n")
	assert.Contains(t, form, "Files:\n\t//depot/A.txt\n")
	assert.NotContains(t, form, "other.txt")
	assert.NotContains(t, form, "<enter description here>")
	assert.NotContains(t, form, "#")
}

func TestInitAndInfo(t *testing.T) {
	newFakeServer(t)
	p := initProvider(t)
	st := p.State()
	assert.True(t, st.Available())
	assert.True(t, st.ProjectOpen)

	cmd := run(p, models.CommandInfo)
	require.True(t, cmd.Succeeded, cmd.ErrorMessages)
	assert.Equal(t, "me", cmd.Result(models.InfoResultKey, models.KeyUserName))
	assert.Equal(t, "/ws", cmd.Result(models.InfoResultKey, models.KeyClientRoot))
}

func TestInitServerDown(t *testing.T) {
	srv := newFakeServer(t)
	srv.respond("info", "", "Perforce client error:\n\tConnect to server failed; check $P4PORT.\n", 1)

	p := New(Options{})
	err := p.Init(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.ErrorConnection, scc.ErrorTypeOf(err))
	st := p.State()
	assert.True(t, st.Initialized)
	assert.False(t, st.Disabled)
	assert.False(t, st.ServerAvailable)
}

func TestUpdateStatus(t *testing.T) {
	srv := newFakeServer(t)
	srv.respond("fstat", fstatABC, "/ws/D.txt - no such file(s).\n", 1)
	p := initProvider(t)

	cmd := run(p, models.CommandUpdateStatus, "/ws/A.txt", "/ws/B.txt", "/ws/C.txt", "/ws/D.txt")
	require.True(t, cmd.Succeeded, cmd.ErrorMessages)
	assert.Equal(t, "read_only", cmd.Result("/ws/A.txt", models.KeyState))
	assert.Equal(t, "checked_out_other", cmd.Result("/ws/B.txt", models.KeyState))
	assert.Equal(t, "OtherUser", cmd.Result("/ws/B.txt", models.KeyOtherUsers))
	assert.Equal(t, "checked_out", cmd.Result("/ws/C.txt", models.KeyState))
	assert.Equal(t, "not_in_depot", cmd.Result("/ws/D.txt", models.KeyState))
	assert.Equal(t, "//depot/A.txt", cmd.Result("/ws/A.txt", models.KeyDepotPath))
}

func TestCheckOutRejectedEverywhere(t *testing.T) {
	srv := newFakeServer(t)
	srv.respond("edit", "", "/ws/X.txt - file(s) not on client.\n", 1)
	p := initProvider(t)

	cmd := run(p, models.CommandCheckOut, "/ws/X.txt")
	assert.False(t, cmd.Succeeded)
	assert.Equal(t, models.ErrorCommand, cmd.ErrorType)
	assert.Equal(t, []string{"/ws/X.txt - file(s) not on client."}, cmd.ErrorMessages)
}

func TestConnectionLostMidCommand(t *testing.T) {
	srv := newFakeServer(t)
	p := initProvider(t)
	srv.respond("edit", "", "TCP connect to perforce:1666 failed.\n", 1)

	cmd := run(p, models.CommandCheckOut, "/ws/A.txt")
	assert.False(t, cmd.Succeeded)
	assert.Equal(t, models.ErrorConnection, cmd.ErrorType)
	p.RespondToCommandErrorType(cmd)
	assert.False(t, p.State().ServerAvailable)
}

func TestSubmit(t *testing.T) {
	srv := newFakeServer(t)
	srv.respond("fstat", `... depotFile //depot/C.txt
... clientFile /ws/C.txt
... headRev 1
... haveRev 1
... action edit
`, "", 0)
	srv.respond("change-o", "Change:\tnew\n\nClient:\tme-ws\n\nDescription:\n\t<enter description here>\n", "", 0)
	srv.respond("change-i", "Change 42 created with 1 open file(s).\n", "", 0)
	srv.respond("submit", "... change 42\n... openFiles 1\n\n... submittedChange 42\n", "", 0)
	p := initProvider(t)

	cmd := scc.NewCommand(models.CommandCheckIn, []string{"/ws/C.txt"})
	cmd.Provider = p
	cmd.Description = "tune fog"
	cmd.DoWork(context.Background())
	require.True(t, cmd.Succeeded, cmd.ErrorMessages)
	assert.Equal(t, "42", cmd.Result("/ws/C.txt", models.KeyChangelist))

	form, err := os.ReadFile(filepath.Join(srv.dir, "form"))
	require.NoError(t, err)
	assert.Contains(t, string(form), "\ttune fog\n")
	assert.Contains(t, string(form), "\t//depot/C.txt\n")
	assert.Contains(t, srv.calls(t), "submit -c 42")
}

func TestSubmitFailureRestoresDefaultChange(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		stderr string
		code   int
	}{
		{name: "client error", stderr: "Submit aborted -- fix problems then use 'p4 submit -c 42'.\n", code: 2},
		{name: "messages only", stderr: "Out of date files must be resolved or reverted.\n", code: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newFakeServer(t)
			srv.respond("fstat", "... depotFile //depot/C.txt\n... clientFile /ws/C.txt\n... action edit\n", "", 0)
			srv.respond("change-o", "Change:\tnew\n\nDescription:\n\t<enter description here>\n", "", 0)
			srv.respond("change-i", "Change 42 created with 1 open file(s).\n", "", 0)
			srv.respond("submit", tt.stdout, tt.stderr, tt.code)
			p := initProvider(t)

			cmd := scc.NewCommand(models.CommandCheckIn, []string{"/ws/C.txt"})
			cmd.Provider = p
			cmd.Description = "tune fog"
			cmd.DoWork(context.Background())
			require.False(t, cmd.Succeeded)
			assert.Equal(t, models.ErrorCommand, cmd.ErrorType)
			assert.Empty(t, cmd.Result("/ws/C.txt", models.KeyChangelist))

			calls := srv.calls(t)
			require.GreaterOrEqual(t, len(calls), 3)
			tail := calls[len(calls)-3:]
			assert.Equal(t, []string{"submit -c 42", "reopen -c default //depot/C.txt", "change -d 42"}, tail)
		})
	}
}

func TestHistory(t *testing.T) {
	srv := newFakeServer(t)
	srv.respond("fstat", "... depotFile //depot/A.txt\n... clientFile /ws/A.txt\n... headRev 2\n... haveRev 2\n", "", 0)
	srv.respond("filelog", `... depotFile //depot/A.txt
... rev0 2
... change0 120
... action0 edit
... time0 1700000100
... user0 bob
... fileSize0 42
... desc0 tweak
... rev1 1
... change1 100
... action1 add
... time1 1700000000
... user1 amy
... desc1 initial
`, "", 0)
	p := initProvider(t)

	cmd := run(p, models.CommandHistory, "/ws/A.txt")
	require.True(t, cmd.Succeeded, cmd.ErrorMessages)
	assert.Equal(t, "2", cmd.Result("/ws/A.txt", models.KeyRevisions))
	assert.Equal(t, "bob", cmd.Result("/ws/A.txt", models.KeyUserPrefix+"0"))
	assert.Equal(t, "42", cmd.Result("/ws/A.txt", models.KeySizePrefix+"0"))
	assert.Equal(t, "initial", cmd.Result("/ws/A.txt", models.KeyDescPrefix+"1"))
}

func TestModifiedAndUnmodified(t *testing.T) {
	srv := newFakeServer(t)
	srv.respond("fstat", `... depotFile //depot/A.txt
... clientFile /ws/A.txt
... action edit

... depotFile //depot/B.txt
... clientFile /ws/B.txt
... action edit
`, "", 0)
	srv.respond("diff", "... depotFile //depot/B.txt\n... clientFile /ws/B.txt\n", "", 0)
	p := initProvider(t)

	cmd := run(p, models.CommandGetModifiedFiles, "/ws/A.txt", "/ws/B.txt")
	require.True(t, cmd.Succeeded, cmd.ErrorMessages)
	assert.Equal(t, "false", cmd.Result("/ws/A.txt", models.KeyModified))
	assert.Equal(t, "true", cmd.Result("/ws/B.txt", models.KeyModified))
	assert.Contains(t, srv.calls(t), "diff -sa /ws/A.txt /ws/B.txt")
}
