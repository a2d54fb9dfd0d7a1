// Package installer sets up the lolcaproxy daemon as a system service.
package installer

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/kardianos/service"

	"github.com/lukaszraczylo/lolcaproxy/internal/config"
	"github.com/lukaszraczylo/lolcaproxy/internal/daemon"
	"github.com/lukaszraczylo/lolcaproxy/internal/protocol"
)

const (
	// GroupName is the group allowed to use the daemon socket.
	GroupName = daemon.GroupName
	// GroupGID is the GID created for GroupName on macOS.
	GroupGID = daemon.DefaultGID

	LogDir = "/var/log/lolcaproxy"
)

// CommandRunner runs one external command.
type CommandRunner func(name string, args ...string) ([]byte, error)

// Installer handles installation and uninstallation.
type Installer struct {
	binaryPath string
	goos       string
	out        io.Writer
	run        CommandRunner
	newService func(cfg *service.Config) (service.Service, error)
	geteuid    func() int
}

// New creates an installer for the running executable.
func New(out io.Writer) (*Installer, error) {
	binaryPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable path: %w", err)
	}

	binaryPath, err = filepath.EvalSymlinks(binaryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable path: %w", err)
	}

	return &Installer{
		binaryPath: binaryPath,
		goos:       runtime.GOOS,
		out:        out,
		run: func(name string, args ...string) ([]byte, error) {
			// #nosec G204 -- commands are fixed group management tools
			return exec.Command(name, args...).CombinedOutput()
		},
		newService: func(cfg *service.Config) (service.Service, error) {
			return service.New(daemon.NewProgram(nil), cfg)
		},
		geteuid: os.Geteuid,
	}, nil
}

// Install creates the group, directories and system settings, then registers
// and starts the service.
func (i *Installer) Install() error {
	if i.geteuid() != 0 {
		return fmt.Errorf("install requires sudo")
	}

	i.log("Installing lolcaproxy...")

	if err := i.createGroup(); err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}

	if err := i.addCurrentUserToGroup(); err != nil {
		return fmt.Errorf("failed to add user to group: %w", err)
	}

	if err := i.createDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	if err := i.createSystemConfig(); err != nil {
		return fmt.Errorf("failed to create system config: %w", err)
	}

	svc, err := i.newService(daemon.ServiceConfig(i.binaryPath))
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	// reinstall over a previous unit
	if status, err := svc.Status(); err == nil && status != service.StatusUnknown {
		i.log("  Removing existing service...")
		_ = svc.Stop()
		_ = svc.Uninstall()
	}

	i.log("  Registering service '%s'...", daemon.ServiceName)
	if err := svc.Install(); err != nil {
		return fmt.Errorf("failed to install service: %w", err)
	}

	i.log("  Starting service...")
	if err := svc.Start(); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	i.log("")
	i.log("✓ Installed successfully!")
	i.log("")
	i.log("Next steps:")
	i.log("  1. Open a NEW terminal (for group membership to take effect)")
	i.log("  2. Edit %s if nginx is not in the default location", config.SystemConfigPath)
	i.log("  3. Run 'lolcaproxy add <host> --port <port>'")
	i.log("")

	return nil
}

// Uninstall stops and removes the service. Settings, backups, the journal and
// the group are kept.
func (i *Installer) Uninstall() error {
	if i.geteuid() != 0 {
		return fmt.Errorf("uninstall requires sudo")
	}

	i.log("Uninstalling lolcaproxy...")

	svc, err := i.newService(daemon.ServiceConfig(i.binaryPath))
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	i.log("  Stopping service...")
	_ = svc.Stop()

	i.log("  Removing service...")
	if err := svc.Uninstall(); err != nil {
		return fmt.Errorf("failed to uninstall service: %w", err)
	}

	_ = os.Remove(protocol.SocketPath)

	i.log("")
	i.log("✓ Uninstalled successfully!")
	i.log("")
	i.log("Note: settings, backups, logs, and the group were preserved.")
	i.log("To fully remove, manually delete:")
	i.log("  - %s", LogDir)
	i.log("  - %s", filepath.Dir(config.SystemConfigPath))
	if i.goos == "darwin" {
		i.log("  - Remove group: sudo dscl . -delete /Groups/%s", GroupName)
	} else {
		i.log("  - Remove group: sudo groupdel %s", GroupName)
	}
	i.log("")

	return nil
}

func (i *Installer) log(format string, args ...any) {
	if i.out != nil {
		fmt.Fprintf(i.out, format+"\n", args...)
	}
}

func (i *Installer) createGroup() error {
	switch i.goos {
	case "darwin":
		return i.createGroupDarwin()
	case "linux":
		return i.createGroupLinux()
	default:
		return fmt.Errorf("unsupported OS: %s", i.goos)
	}
}

func (i *Installer) createGroupDarwin() error {
	if _, err := i.run("dscl", ".", "-read", "/Groups/"+GroupName); err == nil {
		i.log("  Group '%s' already exists", GroupName)
		return nil
	}

	i.log("  Creating group '%s' (GID %d)...", GroupName, GroupGID)

	cmds := [][]string{
		{"dscl", ".", "-create", "/Groups/" + GroupName},
		{"dscl", ".", "-create", "/Groups/" + GroupName, "PrimaryGroupID", strconv.Itoa(GroupGID)},
		{"dscl", ".", "-create", "/Groups/" + GroupName, "RealName", "lolcaproxy users"},
	}

	for _, args := range cmds {
		if _, err := i.run(args[0], args[1:]...); err != nil {
			return fmt.Errorf("command %v failed: %w", args, err)
		}
	}

	return nil
}

func (i *Installer) createGroupLinux() error {
	if _, err := i.run("getent", "group", GroupName); err == nil {
		i.log("  Group '%s' already exists", GroupName)
		return nil
	}

	i.log("  Creating group '%s'...", GroupName)

	if out, err := i.run("groupadd", "-r", GroupName); err != nil {
		return fmt.Errorf("groupadd failed: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}

	return nil
}

func (i *Installer) addCurrentUserToGroup() error {
	// the invoking user, not root
	username := os.Getenv("SUDO_USER")
	if username == "" {
		u, err := user.Current()
		if err != nil {
			return fmt.Errorf("failed to get current user: %w", err)
		}
		username = u.Username
	}

	if username == "root" {
		i.log("  Skipping adding root to group")
		return nil
	}

	switch i.goos {
	case "darwin":
		return i.addUserToGroupDarwin(username)
	case "linux":
		return i.addUserToGroupLinux(username)
	default:
		return fmt.Errorf("unsupported OS: %s", i.goos)
	}
}

func (i *Installer) addUserToGroupDarwin(username string) error {
	output, err := i.run("dscl", ".", "-read", "/Groups/"+GroupName, "GroupMembership")
	if err == nil && containsWord(string(output), username) {
		i.log("  User '%s' already in group '%s'", username, GroupName)
		return nil
	}

	i.log("  Adding user '%s' to group '%s'...", username, GroupName)

	if _, err := i.run("dscl", ".", "-append", "/Groups/"+GroupName, "GroupMembership", username); err != nil {
		return fmt.Errorf("failed to add user to group: %w", err)
	}

	return nil
}

func (i *Installer) addUserToGroupLinux(username string) error {
	output, err := i.run("id", "-nG", username)
	if err == nil && containsWord(string(output), GroupName) {
		i.log("  User '%s' already in group '%s'", username, GroupName)
		return nil
	}

	i.log("  Adding user '%s' to group '%s'...", username, GroupName)

	if _, err := i.run("usermod", "-aG", GroupName, username); err != nil {
		return fmt.Errorf("failed to add user to group: %w", err)
	}

	return nil
}

func containsWord(s, word string) bool {
	for _, f := range strings.Fields(s) {
		if f == word {
			return true
		}
	}
	return false
}

func (i *Installer) createDirectories() error {
	dirs := []string{LogDir, filepath.Dir(config.SystemConfigPath)}

	for _, dir := range dirs {
		i.log("  Creating directory '%s'...", dir)
		// #nosec G301 -- system directories should be world-readable
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	return nil
}

func (i *Installer) createSystemConfig() error {
	if _, err := os.Stat(config.SystemConfigPath); err == nil {
		i.log("  System config already exists at %s", config.SystemConfigPath)
		return nil
	}

	i.log("  Creating system config at %s...", config.SystemConfigPath)
	return config.CreateDefault(config.SystemConfigPath)
}

// CheckInstallation reports why the current user cannot reach the daemon.
func CheckInstallation(socketPath string) error {
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		return fmt.Errorf("daemon not running (socket not found)")
	}

	u, err := user.Current()
	if err != nil {
		return fmt.Errorf("failed to get current user: %w", err)
	}
	if u.Uid == "0" {
		return nil
	}

	groups, err := u.GroupIds()
	if err != nil {
		return fmt.Errorf("failed to get user groups: %w", err)
	}

	for _, gid := range groups {
		g, err := user.LookupGroupId(gid)
		if err != nil {
			continue
		}
		if g.Name == GroupName {
			return nil
		}
	}

	return fmt.Errorf("user '%s' is not in group '%s'. Run 'sudo lolcaproxy install' and open a new terminal", u.Username, GroupName)
}
