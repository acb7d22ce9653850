package oauth

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Prompter shows the PIN to the operator and waits for them to confirm it was
// entered on the vendor portal.
type Prompter interface {
	ShowPIN(pin PIN, now time.Time)
	WaitForConfirmation(ctx context.Context) error
}

// ConsolePrompter talks to the operator over a terminal.
type ConsolePrompter struct {
	In        io.Reader
	Out       io.Writer
	PortalURL string
}

func (p ConsolePrompter) ShowPIN(pin PIN, now time.Time) {
	portal := p.PortalURL
	if portal == "" {
		portal = "https://www.ecobee.com/consumerportal/"
	}
	remaining := pin.ExpiresAt().Sub(now).Round(time.Minute)
	fmt.Fprintln(p.Out, "Authorize this application in the ecobee portal:")
	fmt.Fprintf(p.Out, "  1. Sign in at %s\n", portal)
	fmt.Fprintln(p.Out, "  2. Open My Apps > Add Application")
	fmt.Fprintf(p.Out, "  3. Enter PIN: %s\n", pin.PIN)
	fmt.Fprintf(p.Out, "The PIN expires in %s (at %s).\n", remaining, pin.ExpiresAt().Local().Format("15:04"))
	fmt.Fprint(p.Out, "Press Enter once the application has been added... ")
}

func (p ConsolePrompter) WaitForConfirmation(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		reader := bufio.NewReader(p.In)
		_, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			err = nil
		}
		done <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		fmt.Fprintln(p.Out)
		return err
	}
}
