package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	ishell "github.com/abiosoft/ishell"
	"github.com/common-nighthawk/go-figure"
	"github.com/maxelsson/habitkeep/backend/models"
	"github.com/maxelsson/habitkeep/frontend/client"
	"github.com/maxelsson/habitkeep/lib/utils"
)

// guestCommands contains commands that are available to users who have not signed in.
var guestCommands []Command

// userCommands contains commands that are available only to signed-in users.
var userCommands []Command

// commonCommands contains commands available to all users regardless of their sign-in status.
var commonCommands []Command

// loggedIn indicates whether a user is currently signed in.
var loggedIn bool

// shell is the interactive shell instance users run commands on.
var shell *ishell.Shell

// Command defines a user command in the shell. Each command has a Name, a
// Desc (short description), and a Func executed when the command is invoked.
type Command struct {
	Name string
	Desc string
	Func func(c *ishell.Context)
}

// addCommands registers a slice of commands on the shell.
func addCommands(s *ishell.Shell, commands []Command) {
	for _, command := range commands {
		command := command
		s.AddCmd(&ishell.Cmd{
			Name: command.Name,
			Help: command.Desc,
			Func: command.Func,
		})
	}
}

// printHabits renders a habit list with due state and streak markers.
func printHabits(c *ishell.Context, habits []models.Habit) {
	if len(habits) == 0 {
		c.Println("Nothing here yet.")
		return
	}
	for _, h := range habits {
		cadence := "daily"
		if h.Interval == models.IntervalWeekly {
			cadence = "weekly"
		}
		status := " "
		if h.Performed != nil {
			status = "x"
		}
		c.Printf("[%s] %s (%s, %s) due %s  id=%s\n",
			status, h.Name, h.Category, cadence, h.NextDue.Format("2006-01-02"), h.ID.Hex())
	}
}

// promptHabit walks the user through the fields of a new habit.
func promptHabit(c *ishell.Context) *models.Habit {
	habit := &models.Habit{}

	for {
		c.Print("Habit name: ")
		habit.Name = strings.TrimSpace(c.ReadLine())
		if habit.Name != "" {
			break
		}
		c.Println("Name cannot be empty.")
	}

	c.Print("Description: ")
	habit.Description = c.ReadLine()

	choice := c.MultiChoice([]string{"Personal", "Work"}, "Category")
	if choice == 1 {
		habit.Category = models.CategoryWork
	} else {
		habit.Category = models.CategoryPersonal
	}

	choice = c.MultiChoice([]string{"Daily", "Weekly"}, "Interval")
	if choice == 1 {
		habit.Interval = models.IntervalWeekly
	} else {
		habit.Interval = models.IntervalDaily
	}

	for {
		c.Print("Color (hex, e.g. #4287f5): ")
		habit.Color = strings.TrimSpace(c.ReadLine())
		if utils.ValidateHexColor(habit.Color) {
			break
		}
		c.Println("Color must be a #RGB or #RRGGBB hex value.")
	}

	choice = c.MultiChoice([]string{"Yes", "No"}, "Send reminder notifications?")
	habit.SendNotification = choice == 0

	return habit
}

// InitCmd initializes the shell and sets up the commands for guest and
// signed-in scenarios.
func InitCmd() {

	shell = ishell.New()

	guestCommands = []Command{
		{
			Name: "signin",
			Desc: "Sign in to your account",
			Func: func(c *ishell.Context) {
				var email, password string
				for {
					c.Print("Enter Email: ")
					email = c.ReadLine()

					if utils.ValidateEmail(email) {
						break
					}
					c.Println("Email is not valid.")
				}

				for {
					c.Print("Enter Password: ")
					password = c.ReadPassword()

					if len(password) > 0 {
						break
					}
					c.Println("Password cannot be empty.")
				}

				user, err := client.SignIn(email, password)
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				loggedIn = true
				c.Printf("Welcome back, %s.\n", user.Name)
				if user.FavouriteQuote != "" {
					c.Printf("%q\n", user.FavouriteQuote)
				}
				for _, command := range guestCommands {
					shell.DeleteCmd(command.Name)
				}
				addCommands(shell, userCommands)
			},
		},
		{
			Name: "signup",
			Desc: "Sign up for a new account",
			Func: func(c *ishell.Context) {
				var name, email, password string
				for {
					c.Print("Enter Name: ")
					name = c.ReadLine()

					if len(name) > 1 {
						break
					}
					c.Println("Name must be longer than 1 character.")
				}

				for {
					c.Print("Enter Email: ")
					email = c.ReadLine()

					if utils.ValidateEmail(email) {
						break
					}
					c.Println("Email is not valid.")
				}

				for {
					c.Print("Enter Password: ")
					password = c.ReadPassword()

					if utils.ValidatePassword(password) {
						c.Print("Confirm Password: ")
						confirmPassword := c.ReadPassword()

						if password == confirmPassword {
							break
						}
						c.Println("Passwords do not match.")
						continue
					}
					c.Println("Password must be at least 8 characters with letters and numbers.")
				}

				c.Print("Favourite quote (optional): ")
				quote := c.ReadLine()

				user, err := client.SignUp(name, email, password, quote)
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				loggedIn = true
				c.Printf("Welcome, %s. Your account is ready.\n", user.Name)
				for _, command := range guestCommands {
					shell.DeleteCmd(command.Name)
				}
				addCommands(shell, userCommands)
			},
		},
	}

	userCommands = []Command{
		{
			Name: "today",
			Desc: "List habits due today",
			Func: func(c *ishell.Context) {
				habits, err := client.DueHabits()
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Println("Habits for today:")
				printHabits(c, habits)
			},
		},
		{
			Name: "done",
			Desc: "List habits completed today",
			Func: func(c *ishell.Context) {
				habits, err := client.PerformedHabits()
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Println("Completed today:")
				printHabits(c, habits)
			},
		},
		{
			Name: "habits",
			Desc: "List all your habits",
			Func: func(c *ishell.Context) {
				habits, err := client.Habits()
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				printHabits(c, habits)
			},
		},
		{
			Name: "add",
			Desc: "Create a new habit",
			Func: func(c *ishell.Context) {
				habit := promptHabit(c)
				created, err := client.CreateHabit(habit)
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Printf("Habit %q created, due today.\n", created.Name)
			},
		},
		{
			Name: "toggle",
			Desc: "Mark a habit performed for today, or undo today's mark",
			Func: func(c *ishell.Context) {
				if len(c.Args) != 1 {
					c.Println("Usage: toggle <habit-id>")
					return
				}
				habit, warning, err := client.ToggleHabit(c.Args[0])
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				if warning != "" {
					utils.PrintError(warning)
				}
				if habit.Performed != nil {
					c.Printf("%q done for today. Next due %s.\n", habit.Name, habit.NextDue.Format("2006-01-02"))
				} else {
					c.Printf("%q is due again today.\n", habit.Name)
				}
			},
		},
		{
			Name: "streak",
			Desc: "Show the current streak count for a habit",
			Func: func(c *ishell.Context) {
				if len(c.Args) != 1 {
					c.Println("Usage: streak <habit-id>")
					return
				}
				count, err := client.StreakCount(c.Args[0])
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Printf("Current streak: %d\n", count)
			},
		},
		{
			Name: "calendar",
			Desc: "Show streaks for the current month",
			Func: func(c *ishell.Context) {
				now := time.Now()
				first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
				last := first.AddDate(0, 1, -1)

				view, err := client.Calendar(first.Format("2006-01-02"), last.Format("2006-01-02"))
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				if len(view) == 0 {
					c.Println("No streaks this month.")
					return
				}
				for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
					key := d.Format("2006-01-02")
					infos, ok := view[key]
					if !ok {
						continue
					}
					labels := make([]string, 0, len(infos))
					for _, info := range infos {
						labels = append(labels, info.Label)
					}
					c.Printf("%s: %s\n", key, strings.Join(labels, ", "))
				}
			},
		},
		{
			Name: "signout",
			Desc: "Sign out of your account",
			Func: func(c *ishell.Context) {
				if err := client.SignOut(); err != nil {
					utils.PrintError(err.Error())
					return
				}
				loggedIn = false
				c.Println("Signed out.")
				for _, command := range userCommands {
					shell.DeleteCmd(command.Name)
				}
				addCommands(shell, guestCommands)
			},
		},
	}

	commonCommands = []Command{
		{
			Name: "quit",
			Desc: "Quit the shell",
			Func: func(c *ishell.Context) {
				c.Println("Bye.")
				os.Exit(0)
			},
		},
	}

	if client.IsSignedIn() {
		loggedIn = true
		addCommands(shell, userCommands)
	} else {
		addCommands(shell, guestCommands)
	}
	addCommands(shell, commonCommands)
}

// Execute prints the banner and runs the interactive shell.
func Execute() {
	banner := figure.NewFigure("HabitKeep", "", true)
	banner.Print()
	fmt.Println("Type 'help' to see available commands.")
	shell.Run()
}
