package main

import (
	"context"
	"fmt"

	"github.com/tmalore/studentos/core"
)

// grantCredits tops up a user's balance, e.g. a support or promo grant.
func (cli *commandLine) grantCredits(uname string, amount int, reason string) error {
	ctx := context.Background()

	usr, err := cli.usrRepo.GetUserByUsernameOrEmail(ctx, core.CleanString(uname, true /* lower */))
	if err != nil {
		return err
	}

	if err := cli.creditRepo.EnsureBalance(ctx, usr.ID, 0); err != nil {
		return err
	}
	bal, err := cli.creditRepo.GrantCredits(ctx, usr.ID, amount)
	if err != nil {
		return err
	}

	if reason != "" {
		fmt.Printf("granted %d credits to %s (%s); new balance: %d\n", amount, usr.Username, reason, bal.Amount)
	} else {
		fmt.Printf("granted %d credits to %s; new balance: %d\n", amount, usr.Username, bal.Amount)
	}
	return nil
}
