package history

import "errors"

type tee struct {
	primary Store
	mirrors []Store
}

// Tee records every entry in primary and in every mirror. The run id is the
// one of primary.
func Tee(primary Store, mirrors ...Store) Store {
	return &tee{primary: primary, mirrors: mirrors}
}

func (t *tee) RunID() string { return t.primary.RunID() }

func (t *tee) Record(x, residuals, constraints []float64) error {
	err := t.primary.Record(x, residuals, constraints)
	for _, m := range t.mirrors {
		err = errors.Join(err, m.Record(x, residuals, constraints))
	}
	return err
}

func (t *tee) Flush() error {
	err := t.primary.Flush()
	for _, m := range t.mirrors {
		err = errors.Join(err, m.Flush())
	}
	return err
}

func (t *tee) Close() error {
	err := t.primary.Close()
	for _, m := range t.mirrors {
		err = errors.Join(err, m.Close())
	}
	return err
}
