package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/writeonenglish/woe/core/assignment"
)

var errNotTeacher = errors.New("user is not a teacher")

// addClass creates a class owned by the teacher matching uname (username or email).
func (cli *commandLine) addClass(uname, name string) error {
	ctx := context.Background()
	teacher, err := cli.usrSvc.GetByUsernameOrEmail(ctx, uname)
	if err != nil {
		return err
	}
	if !teacher.IsTeacher() && !teacher.IsAdmin() {
		return errNotTeacher
	}

	nc := assignment.NewClass{Name: name}
	if err = nc.Validate(cli.validate); err != nil {
		return err
	}
	cls, err := cli.asgSvc.CreateClass(ctx, teacher.ID, nc)
	if err != nil {
		return errors.Wrap(err, "creating class")
	}
	_, _ = fmt.Fprintf(cli.out, "class %s created\n", cls.ID)
	return nil
}
