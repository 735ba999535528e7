// Package connectivity implements the pre-flight warehouse check: report the
// connection settings, then open one session and print who and where it is.
package connectivity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"ctingest/internal/config"
	"ctingest/internal/errs"
	"ctingest/internal/storage"
)

// OpenFunc opens a warehouse session.
type OpenFunc func(ctx context.Context, cfg storage.Config) (storage.Session, error)

const masked = "**********"

// LikelyCauses is printed after a failed snowflake connection.
var LikelyCauses = []string{
	"SNOWFLAKE_ACCOUNT format (usually: orgname-account)",
	"Wrong password",
	"Wrong warehouse/database",
	"Network/VPN issues",
}

var genericCauses = []string{
	"WAREHOUSE_DSN host, port or database name",
	"Wrong credentials in WAREHOUSE_DSN",
	"Network/VPN issues",
}

// Check prints the required settings (secrets masked), and when none are
// missing opens a session, runs the identity query and closes it.
//
// Missing settings return an error matching errs.ErrConfiguration without
// any connection attempt. Connection and query failures wrap
// errs.ErrConnection.
func Check(ctx context.Context, s config.Settings, open OpenFunc, out io.Writer) error {
	fmt.Fprintln(out, "\n--- TESTING WAREHOUSE CONNECTION ---")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "%s: %s\n", config.KeyWarehouseKind, s.WarehouseKind)
	for _, k := range s.ConnectionKeys() {
		fmt.Fprintf(out, "%s: %s\n", k, display(k, s.Value(k)))
	}

	if err := s.RequireConnection(); err != nil {
		var me *config.MissingError
		if errors.As(err, &me) {
			fmt.Fprintln(out, "\nERROR: Missing environment variables:")
			fmt.Fprintln(out, strings.Join(me.Names, ", "))
			fmt.Fprintln(out, "Fix your .env file and try again.")
		}
		return err
	}

	fmt.Fprintf(out, "\nConnecting to %s...\n\n", s.WarehouseKind)

	sess, err := open(ctx, s.Storage())
	if err != nil {
		if !errors.Is(err, errs.ErrConnection) {
			err = fmt.Errorf("%w: %w", errs.ErrConnection, err)
		}
		return failed(out, s.WarehouseKind, err)
	}
	id, err := sess.Identity(ctx)
	cerr := sess.Close()
	if err != nil {
		return failed(out, s.WarehouseKind, fmt.Errorf("%w: %w", errs.ErrConnection, err))
	}
	if cerr != nil {
		return failed(out, s.WarehouseKind, fmt.Errorf("%w: close: %w", errs.ErrConnection, cerr))
	}

	fmt.Fprintln(out, "CONNECTION SUCCESSFUL!")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Version          : %s\n", id.Version)
	fmt.Fprintf(out, "  Current Database : %s\n", id.Database)
	fmt.Fprintf(out, "  Current User     : %s\n", id.User)
	return nil
}

func display(key, value string) string {
	switch {
	case value == "":
		return "NOT SET"
	case key == config.KeyPassword || key == config.KeyWarehouseDSN:
		return masked
	}
	return value
}

func failed(out io.Writer, kind string, err error) error {
	fmt.Fprintln(out, "CONNECTION FAILED!")
	fmt.Fprintf(out, "  Error: %v\n", err)
	fmt.Fprintln(out, "\nPossible issues:")
	causes := genericCauses
	if kind == config.DefaultWarehouseKind {
		causes = LikelyCauses
	}
	for _, c := range causes {
		fmt.Fprintf(out, " - %s\n", c)
	}
	return err
}
