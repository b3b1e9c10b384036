package startup

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/thatsimonsguy/signal-controller/internal/env"
	"github.com/thatsimonsguy/signal-controller/internal/model"
)

// BootScript renders a bash script that drives every output to its inactive level.
func BootScript(pins map[string]model.GPIOPin) string {
	var lines []string
	lines = append(lines, "#!/bin/bash", "", "# Signal controller outputs inactive at boot", "")

	for _, name := range []string{"green_indicator", "red_indicator", "buzzer"} {
		pin, ok := pins[name]
		if !ok {
			continue
		}
		drive := "dl"
		if !pin.ActiveHigh {
			drive = "dh"
		}
		lines = append(lines, fmt.Sprintf("# %s", name))
		lines = append(lines, fmt.Sprintf("pinctrl set %d op pn %s", pin.Number, drive))
		lines = append(lines, "")
	}

	return strings.Join(lines, "\n") + "\n"
}

func WriteStartupScript() error {
	return os.WriteFile(env.Cfg.BootScriptFilePath, []byte(BootScript(env.Cfg.Pins())), 0755)
}

func StartupServiceUnit(scriptPath string) string {
	return fmt.Sprintf(`[Unit]
Description=Drive signal controller outputs inactive at boot
After=local-fs.target

[Service]
Type=oneshot
Environment=PATH=/usr/local/bin:/usr/bin:/bin
ExecStart=%s
RemainAfterExit=true

[Install]
WantedBy=multi-user.target
`, scriptPath)
}

func InstallStartupService() error {
	return os.WriteFile(env.Cfg.OSServicePath, []byte(StartupServiceUnit(env.Cfg.BootScriptFilePath)), 0644)
}

// ControllerServiceUnit runs the controller after the GPIO init unit.
func ControllerServiceUnit(gpioUnitPath, execPath, configFile string) string {
	gpioUnitName := filepath.Base(gpioUnitPath)
	return fmt.Sprintf(`[Unit]
Description=Signal controller
After=%s network-pre.target
Requires=%s

[Service]
Type=simple
ExecStart=%s -config-file %s
Restart=on-failure
RestartSec=5s

[Install]
WantedBy=multi-user.target
`, gpioUnitName, gpioUnitName, execPath, configFile)
}

func InstallControllerService(execPath string) error {
	unit := ControllerServiceUnit(env.Cfg.OSServicePath, execPath, env.Cfg.ConfigFile)
	return os.WriteFile(env.Cfg.MainServicePath, []byte(unit), 0644)
}

func RunStartupScript() error {
	cmd := exec.Command("/bin/bash", env.Cfg.BootScriptFilePath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
