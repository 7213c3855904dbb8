package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"warden/internal/moderation/ports"
	"warden/internal/moderation/service"
	"warden/internal/platform/config"
	"warden/internal/presence"
	id "warden/pkg/domain"
)

const consoleHelp = `host lines:
  join <name> <address> [perm...]   connect a subject (perms: kick mute ban check dupeip baninfo unban chat help, or "staff")
  leave <name>                      disconnect a subject
  say <name> <text...>              chat as a subject
  move <name>                       attempt to move as a subject
  cmd <name> <line...>              run a host command as a subject
  as <name> <verb> [args...]        run a moderation command as a subject
  hosthelp                          show this list
anything else runs as a moderation command with full permissions.`

// console drives the moderation service from an operator terminal, standing
// in for a connected host.
type console struct {
	svc   *service.Service
	host  *presence.Registry
	perms config.Permissions
	in    io.Reader
	out   io.Writer
	admin *presence.Console

	// ids keeps a subject's id stable across reconnects.
	ids map[string]id.SubjectID
}

func newConsole(svc *service.Service, host *presence.Registry, perms config.Permissions, in io.Reader, out io.Writer) *console {
	out = presence.NewSyncWriter(out)
	return &console{
		svc:   svc,
		host:  host,
		perms: perms,
		in:    in,
		out:   out,
		admin: presence.NewConsole(out),
		ids:   make(map[string]id.SubjectID),
	}
}

// Run reads lines until ctx is done or input ends. On cancellation the input
// is closed when it is an io.Closer, which ends the reader goroutine for
// pipes. A read blocked on a terminal only returns with the next line.
func (c *console) Run(ctx context.Context) error {
	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errs <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			if closer, ok := c.in.(io.Closer); ok {
				_ = closer.Close()
			}
			return nil
		case err := <-errs:
			return err
		case line := <-lines:
			if err := c.Dispatch(ctx, line); err != nil {
				fmt.Fprintf(c.out, "error: %v\n", err)
			}
		}
	}
}

// Dispatch handles one operator line.
func (c *console) Dispatch(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	switch strings.ToLower(fields[0]) {
	case "hosthelp":
		fmt.Fprintln(c.out, consoleHelp)
		return nil
	case "join":
		if len(fields) < 3 {
			return errors.New("usage: join <name> <address> [perm...]")
		}
		return c.join(ctx, fields[1], fields[2], fields[3:])
	case "leave":
		if len(fields) < 2 {
			return errors.New("usage: leave <name>")
		}
		subject, err := c.online(ctx, fields[1])
		if err != nil {
			return err
		}
		c.svc.OnLeave(ctx, subject.ID)
		c.host.Leave(subject.ID)
		return nil
	case "say":
		if len(fields) < 3 {
			return errors.New("usage: say <name> <text...>")
		}
		subject, err := c.online(ctx, fields[1])
		if err != nil {
			return err
		}
		text := strings.Join(fields[2:], " ")
		decision := c.svc.OnMessage(ctx, subject.ID, text)
		if !decision.Cancel {
			fmt.Fprintf(c.out, "<%s> %s\n", subject.Name, text)
		}
		return nil
	case "move":
		if len(fields) < 2 {
			return errors.New("usage: move <name>")
		}
		subject, err := c.online(ctx, fields[1])
		if err != nil {
			return err
		}
		if c.svc.OnMove(ctx, subject.ID) {
			fmt.Fprintf(c.out, "%s is frozen\n", subject.Name)
		}
		return nil
	case "cmd":
		if len(fields) < 3 {
			return errors.New("usage: cmd <name> <line...>")
		}
		subject, err := c.online(ctx, fields[1])
		if err != nil {
			return err
		}
		if c.svc.OnCommand(ctx, subject.ID, strings.Join(fields[2:], " ")) {
			fmt.Fprintf(c.out, "command blocked for %s\n", subject.Name)
		}
		return nil
	case "as":
		if len(fields) < 3 {
			return errors.New("usage: as <name> <verb> [args...]")
		}
		subject, err := c.online(ctx, fields[1])
		if err != nil {
			return err
		}
		actor, ok := c.host.Actor(subject.ID)
		if !ok {
			return fmt.Errorf("%s is not online", fields[1])
		}
		return c.svc.Execute(ctx, actor, fields[2:])
	default:
		return c.svc.Execute(ctx, c.admin, fields)
	}
}

func (c *console) join(ctx context.Context, name, address string, perms []string) error {
	key := strings.ToLower(name)
	subjectID, ok := c.ids[key]
	if !ok {
		subjectID = id.NewSubjectID()
		c.ids[key] = subjectID
	}

	decision := c.svc.OnConnect(ctx, subjectID, address)
	if !decision.Allowed {
		fmt.Fprintf(c.out, "%s was refused: %s\n", name, decision.Reason)
		return nil
	}
	c.host.Join(ports.Subject{ID: subjectID, Name: name, Address: address}, c.expandPermissions(perms)...)
	fmt.Fprintf(c.out, "%s joined as %s\n", name, subjectID)
	return nil
}

func (c *console) online(ctx context.Context, name string) (ports.Subject, error) {
	subject, ok := c.host.Lookup(ctx, name)
	if !ok {
		return ports.Subject{}, fmt.Errorf("%s is not online", name)
	}
	return subject, nil
}

// expandPermissions maps command families ("mute") and "staff" to the
// configured permission nodes. Unknown names pass through unchanged.
func (c *console) expandPermissions(names []string) []string {
	var out []string
	for _, name := range names {
		if strings.EqualFold(name, "staff") {
			out = append(out, c.perms.All()...)
			continue
		}
		if node, ok := c.perms.Node(name); ok {
			out = append(out, node)
			continue
		}
		out = append(out, name)
	}
	return out
}
