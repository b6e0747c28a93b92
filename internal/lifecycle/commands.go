package lifecycle

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/fleetdeck/fleetdeck/internal/sshpool"
)

// commandKind is the closed set of remote actions the controller can
// issue. Each kind has exactly one builder; nothing deeper in the stack
// re-interprets command strings.
type commandKind string

const (
	cmdUploadPayload   commandKind = "upload_payload"
	cmdVerifyChecksum  commandKind = "verify_checksum"
	cmdRegisterService commandKind = "register_service"
	cmdStartService    commandKind = "start_service"
	cmdReadHeartbeat   commandKind = "read_heartbeat"
	cmdStopService     commandKind = "stop_service"
	cmdRemoveService   commandKind = "remove_service"
	cmdRemovePayload   commandKind = "remove_payload"
)

const (
	agentDir      = "/opt/fleetdeck"
	agentBinary   = agentDir + "/fleetdeck-agent"
	agentService  = "fleetdeck-agent"
	unitPath      = "/etc/systemd/system/" + agentService + ".service"
	heartbeatPath = agentDir + "/heartbeat"
)

const unitFile = `[Unit]
Description=Fleetdeck monitoring agent
After=network-online.target

[Service]
ExecStart=` + agentBinary + ` --heartbeat-file ` + heartbeatPath + `
Restart=always
RestartSec=5

[Install]
WantedBy=multi-user.target
`

// step couples a command with its success check. The check sees the full
// ExecResult so it can validate output, not just the exit code.
type step struct {
	kind    commandKind
	command string
	check   func(sshpool.ExecResult) error
}

func exitZero(result sshpool.ExecResult) error {
	if result.ExitCode != 0 {
		return fmt.Errorf("exit code %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}

func buildStep(kind commandKind, payload []byte, checksum string) step {
	switch kind {
	case cmdUploadPayload:
		encoded := base64.StdEncoding.EncodeToString(payload)
		return step{
			kind: kind,
			command: fmt.Sprintf("install -d -m 0755 %s && printf '%%s' '%s' | base64 -d > %s && chmod 0755 %s",
				agentDir, encoded, agentBinary, agentBinary),
			check: exitZero,
		}
	case cmdVerifyChecksum:
		return step{
			kind:    kind,
			command: fmt.Sprintf("sha256sum %s", agentBinary),
			check: func(result sshpool.ExecResult) error {
				if err := exitZero(result); err != nil {
					return err
				}
				// An absent checksum means there is nothing trustworthy
				// to compare against; that is a failure, not a pass.
				if checksum == "" {
					return fmt.Errorf("no payload checksum to verify %s against", agentBinary)
				}
				if !strings.HasPrefix(strings.TrimSpace(result.Stdout), checksum) {
					return fmt.Errorf("checksum mismatch on %s", agentBinary)
				}
				return nil
			},
		}
	case cmdRegisterService:
		return step{
			kind: kind,
			command: fmt.Sprintf("cat > %s <<'EOF'\n%sEOF\nsystemctl daemon-reload && systemctl enable %s",
				unitPath, unitFile, agentService),
			check: exitZero,
		}
	case cmdStartService:
		return step{kind: kind, command: fmt.Sprintf("systemctl start %s", agentService), check: exitZero}
	case cmdReadHeartbeat:
		return step{kind: kind, command: fmt.Sprintf("cat %s", heartbeatPath), check: exitZero}
	case cmdStopService:
		return step{kind: kind, command: fmt.Sprintf("systemctl stop %s", agentService), check: exitZero}
	case cmdRemoveService:
		// The unit may never have been registered (uninstall from the
		// deploying state), so stop and disable are tolerated to fail.
		return step{
			kind: kind,
			command: fmt.Sprintf("systemctl stop %s 2>/dev/null; systemctl disable %s 2>/dev/null; rm -f %s && systemctl daemon-reload",
				agentService, agentService, unitPath),
			check: exitZero,
		}
	case cmdRemovePayload:
		return step{kind: kind, command: fmt.Sprintf("rm -rf %s", agentDir), check: exitZero}
	default:
		panic(fmt.Sprintf("unknown command kind %q", kind))
	}
}

// stepsFor maps each operation onto its remote command sequence.
func stepsFor(op Operation, payload []byte, checksum string) []step {
	var kinds []commandKind
	switch op {
	case OpDeploy:
		kinds = []commandKind{cmdUploadPayload, cmdVerifyChecksum}
	case OpInstall:
		kinds = []commandKind{cmdRegisterService}
	case OpStart:
		kinds = []commandKind{cmdStartService, cmdReadHeartbeat}
	case OpStop:
		kinds = []commandKind{cmdStopService}
	case OpUninstall:
		kinds = []commandKind{cmdRemoveService, cmdRemovePayload}
	}

	steps := make([]step, len(kinds))
	for i, kind := range kinds {
		steps[i] = buildStep(kind, payload, checksum)
	}
	return steps
}
