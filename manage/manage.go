// Package manage implements the operator commands of the bridge:
// adding and removing members, listing them and dumping the learning
// table.
package manage

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/weaveworks/tcbridge/bridge"
	"github.com/weaveworks/tcbridge/common"
)

var ErrInvalidCommand = errors.New("exactly one of add, delete, list or show must be given")

// Plane is anything the commands can be run against: local tables,
// or a daemon over HTTP.
type Plane interface {
	AddMember(ifindex uint32) error
	RemoveMember(ifindex uint32) error
	Members() ([]bridge.Member, error)
	Entries() ([]bridge.Row, error)
}

// Local runs commands directly on an interface set and learning
// table, wherever those are stored.
type Local struct {
	Set   *bridge.InterfaceSet
	Table *bridge.LearningTable
	Clock bridge.Clock
}

func NewLocal(set *bridge.InterfaceSet, table *bridge.LearningTable, clock bridge.Clock) *Local {
	return &Local{Set: set, Table: table, Clock: clock}
}

func (l *Local) AddMember(ifindex uint32) error {
	if err := l.Set.Add(ifindex); err != nil {
		return err
	}
	if !l.Set.Contains(ifindex) {
		common.Log.Warnf("No free slot for interface %d; bridge already has %d members", ifindex, bridge.MaxInterfaces)
	}
	return nil
}

func (l *Local) RemoveMember(ifindex uint32) error {
	return l.Set.Remove(ifindex)
}

func (l *Local) Members() ([]bridge.Member, error) {
	return l.Set.List(), nil
}

func (l *Local) Entries() ([]bridge.Row, error) {
	return l.Table.Entries(l.Clock.Nanotime()), nil
}

type Op int

const (
	OpAdd Op = iota
	OpDelete
	OpList
	OpShow
)

type Command struct {
	Op      Op
	Ifindex uint32
}

// NewCommand picks the single requested operation; add and del are
// nil when not given.
func NewCommand(add, del *uint32, list, show bool) (Command, error) {
	var cmds []Command
	if add != nil {
		cmds = append(cmds, Command{Op: OpAdd, Ifindex: *add})
	}
	if del != nil {
		cmds = append(cmds, Command{Op: OpDelete, Ifindex: *del})
	}
	if list {
		cmds = append(cmds, Command{Op: OpList})
	}
	if show {
		cmds = append(cmds, Command{Op: OpShow})
	}
	if len(cmds) != 1 {
		return Command{}, ErrInvalidCommand
	}
	return cmds[0], nil
}

func (cmd Command) Run(p Plane, w io.Writer) error {
	switch cmd.Op {
	case OpAdd:
		return p.AddMember(cmd.Ifindex)
	case OpDelete:
		return p.RemoveMember(cmd.Ifindex)
	case OpList:
		members, err := p.Members()
		if err != nil {
			return err
		}
		PrintMembers(w, members)
		return nil
	case OpShow:
		rows, err := p.Entries()
		if err != nil {
			return err
		}
		PrintEntries(w, rows)
		return nil
	}
	return ErrInvalidCommand
}

func PrintMembers(w io.Writer, members []bridge.Member) {
	for _, m := range members {
		fmt.Fprintf(w, "%d: %d\n", m.Slot, m.Ifindex)
	}
}

func PrintEntries(w io.Writer, rows []bridge.Row) {
	fmt.Fprintln(w, "mac               --> ifindex, age")
	fmt.Fprintln(w, "==================================")
	for _, row := range rows {
		fmt.Fprintf(w, "%v --> %d, %v\n", row.MAC, row.Ifindex, row.Age.Round(time.Millisecond))
	}
}
