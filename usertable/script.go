package usertable

import (
	"fmt"
	"strings"

	"github.com/stokaro/userschema/dbschema/types"
	"github.com/stokaro/userschema/migration/migerr"
	"github.com/stokaro/userschema/migration/migrator"
	"github.com/stokaro/userschema/migration/steps"
)

// Script renders the enabled units as a guarded SQL script that can be run
// repeatedly by hand. Dialects without guarded DDL return migerr.ErrUnsupported.
func Script(dialect types.Dialect, opts Options, direction migrator.Direction) (string, error) {
	renderer, ok := dialect.(types.ScriptRenderer)
	if !ok {
		return "", migerr.Newf(migerr.ErrUnsupported, nil, "guarded scripts for %s", dialect.Name())
	}
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return "", err
	}

	list := units(opts)
	if direction == migrator.Down {
		for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
			list[i], list[j] = list[j], list[i]
		}
	}

	sep := renderer.BatchSeparator()
	var b strings.Builder
	fmt.Fprintf(&b, "-- %s %s (%s)\n", opts.Table, direction, dialect.Name())
	for _, u := range list {
		actions := u.up
		if direction == migrator.Down {
			actions = u.down
		}

		fmt.Fprintf(&b, "\n-- %d %s\n", u.version, u.description)
		for _, a := range actions {
			stmt, err := render(renderer, opts, a)
			if err != nil {
				return "", err
			}
			b.WriteString(stmt)
			b.WriteString(sep)
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

func render(r types.ScriptRenderer, opts Options, a action) (string, error) {
	switch a.step {
	case steps.StepAddColumn:
		return r.GuardedAddColumnSQL(opts.Table, a.column), nil
	case steps.StepDropColumn:
		return r.GuardedDropColumnSQL(opts.Table, a.column.Name), nil
	case steps.StepBackfill:
		return r.BackfillScriptSQL(opts.Table, a.column.Name, a.value, opts.BatchSize), nil
	case steps.StepSetNotNull:
		return r.GuardedSetNotNullSQL(opts.Table, a.column), nil
	case steps.StepCreateIndex:
		return r.GuardedCreateIndexSQL(opts.Table, a.index), nil
	case steps.StepDropIndex:
		return r.GuardedDropIndexSQL(opts.Table, a.index.Name), nil
	default:
		return "", migerr.Newf(migerr.ErrUnsupported, nil, "step %q", a.step)
	}
}
