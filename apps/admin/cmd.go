package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"syscall"

	"golang.org/x/term"

	"github.com/tmalore/studentos/core/credit"
	"github.com/tmalore/studentos/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db         *sql.DB
	usrRepo    user.Repository
	creditRepo credit.Repository
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [ARGS] - run DB migrations (goose commands)")
	fmt.Println("  adduser -username USERNAME -email EMAIL [-admin] - create or update a user; password prompted")
	fmt.Println("  addtool -name NAME -slug SLUG -cost COST [-description DESC] [-category CAT] - register a tool")
	fmt.Println("  grantcredits -username USERNAME|EMAIL -amount AMOUNT [-reason REASON] - top up a user's balance")
	fmt.Println("  resetpassword -username USERNAME|EMAIL - reset user's password")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ExitOnError)
	addUserUname := addUserCmd.String("username", "", "The user's username. The password will be prompted next.")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserAdmin := addUserCmd.Bool("admin", false, "Grant all admin roles.")

	addToolCmd := flag.NewFlagSet("addtool", flag.ExitOnError)
	addToolName := addToolCmd.String("name", "", "The tool's display name.")
	addToolSlug := addToolCmd.String("slug", "", "The tool's unique slug.")
	addToolCost := addToolCmd.Int("cost", 0, "The tool's credit cost; 0 means free.")
	addToolDesc := addToolCmd.String("description", "", "Optional description.")
	addToolCat := addToolCmd.String("category", "", "Optional category.")

	grantCmd := flag.NewFlagSet("grantcredits", flag.ExitOnError)
	grantUname := grantCmd.String("username", "", "The user's username or email.")
	grantAmount := grantCmd.Int("amount", 0, "The number of credits to grant; must be >= 1.")
	grantReason := grantCmd.String("reason", "", "Optional reason, for the operator's logs.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ExitOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username or email. The password will be prompted next.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserUname == "" || *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(*addUserUname, *addUserEmail, pwd, *addUserAdmin)
	case "addtool":
		if err := addToolCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addToolName == "" || *addToolSlug == "" || *addToolCost < 0 {
			addToolCmd.Usage()
			return errHelp
		}
		return cli.addTool(*addToolName, *addToolSlug, *addToolDesc, *addToolCat, *addToolCost)
	case "grantcredits":
		if err := grantCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *grantUname == "" || *grantAmount < 1 {
			grantCmd.Usage()
			return errHelp
		}
		return cli.grantCredits(*grantUname, *grantAmount, *grantReason)
	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*resetPasswordUname, pwd)
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) promptPassword() (string, error) {
	fmt.Print("Enter password:")
	pwd, err := readPasswordFunc(syscall.Stdin)
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}
