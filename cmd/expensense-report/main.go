package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/shopspring/decimal"

	"github.com/expensense/expensense/internal/expense"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	fs := ff.NewFlagSet("expensense-report")
	var (
		dbPath      = fs.StringLong("db", "expensense.db", "Database file path")
		statusName  = fs.StringLong("status", "", "Only show expenses in this status (e.g. pending)")
		userID      = fs.StringLong("user", "", "Only show expenses filed by this user ID")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("EXPENSENSE"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// The server holds an exclusive lock on the database file, so the
	// report runs against a copy or a stopped instance.
	db, err := expense.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to open database", "error", err, "path", *dbPath)
		os.Exit(1)
	}
	defer db.Close()

	expenses, err := db.ListExpenses()
	if err != nil {
		slog.Error("Failed to list expenses", "error", err)
		os.Exit(1)
	}

	users, err := db.ListUsers()
	if err != nil {
		slog.Error("Failed to list users", "error", err)
		os.Exit(1)
	}
	names := make(map[string]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Name
	}

	sort.Slice(expenses, func(i, j int) bool {
		return expenses[i].CreatedAt.Before(expenses[j].CreatedAt)
	})

	total := decimal.Zero
	shown := 0
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tUSER\tNAME\tAMOUNT\tSIMILARITY\tSTATUS\tAPPROVAL")
	for _, e := range expenses {
		if *statusName != "" && e.Status.String() != *statusName {
			continue
		}
		if *userID != "" && e.UserID != *userID {
			continue
		}

		name := names[e.UserID]
		if name == "" {
			name = e.UserID
		}

		similarity := "-"
		if e.Similarity != nil {
			similarity = fmt.Sprintf("%.1f", *e.Similarity)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ExpenseDate.Format("2006-01-02"),
			name,
			e.Name,
			e.Amount.StringFixed(2),
			similarity,
			e.Status,
			approvalTrail(e),
		)
		total = total.Add(e.Amount)
		shown++
	}
	w.Flush()

	fmt.Printf("\n%d expenses, total %s\n", shown, total.StringFixed(2))
}

// approvalTrail summarizes who moved the expense through each tier.
func approvalTrail(e *expense.Expense) string {
	var parts []string
	if e.ManagerApprovedAt != nil {
		parts = append(parts, "manager:"+approvalKind(e.ManagerAutoApproved))
	}
	if e.AdminApprovedAt != nil {
		parts = append(parts, "admin:"+approvalKind(e.AdminAutoApproved))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}

func approvalKind(auto bool) string {
	if auto {
		return "auto"
	}
	return "manual"
}
