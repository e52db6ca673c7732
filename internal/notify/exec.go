package notify

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// execPopper shells out to the platform notifier: notify-send on Linux,
// osascript on macOS.
type execPopper struct {
	bin  string
	args func(title, body string) []string
}

func defaultPopper() Popper {
	switch runtime.GOOS {
	case "darwin":
		return &execPopper{
			bin: "osascript",
			args: func(title, body string) []string {
				script := fmt.Sprintf("display notification %q with title %q", body, title)
				return []string{"-e", script}
			},
		}
	default:
		return &execPopper{
			bin: "notify-send",
			args: func(title, body string) []string {
				return []string{title, body}
			},
		}
	}
}

func (p *execPopper) Available() bool {
	_, err := exec.LookPath(p.bin)
	return err == nil
}

func (p *execPopper) Pop(title, body string) error {
	return exec.Command(p.bin, p.args(title, body)...).Run()
}

// bellBeeper rings the terminal bell on stderr. afplay on macOS gives a
// proper sound; everywhere else the bell is the lowest common denominator.
type bellBeeper struct{}

func defaultBeeper() Beeper {
	if runtime.GOOS == "darwin" {
		if _, err := exec.LookPath("afplay"); err == nil {
			return &afplayBeeper{}
		}
	}
	return bellBeeper{}
}

func (bellBeeper) Beep() error {
	_, err := os.Stderr.WriteString("\a")
	return err
}

type afplayBeeper struct{}

func (afplayBeeper) Beep() error {
	return exec.Command("afplay", "/System/Library/Sounds/Ping.aiff").Run()
}
