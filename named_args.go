package dbpool

// A NamedArg is a named argument. NamedArg values may be used as
// arguments to Execute, Exec or Query and bind to the corresponding named
// parameter in the SQL statement, if the engine supports them.
//
// For a more concise way to create NamedArg values, see
// the Named function.
type NamedArg struct {
	_Named_Fields_Required struct{}

	// Name is the name of the parameter placeholder.
	//
	// If empty, the ordinal position in the argument list will be
	// used.
	//
	// Name must omit any symbol prefix.
	Name string

	// Value is the value of the parameter.
	Value interface{}
}

// Named provides a more concise way to create NamedArg values.
//
// Example usage:
//
//	pool.Exec(ctx, `
//	    delete from Invoice
//	    where
//	        TimeCreated < @end
//	        and TimeCreated >= @start;`,
//	    dbpool.Named("start", startTime),
//	    dbpool.Named("end", endTime),
//	)
func Named(name string, value interface{}) NamedArg {
	return NamedArg{Name: name, Value: value}
}

// SplitArgs separates positional values from named ones. Engines without
// named parameter support use it to reject or reorder arguments.
func SplitArgs(args []interface{}) (positional []interface{}, named []NamedArg) {
	for _, a := range args {
		if na, ok := a.(NamedArg); ok {
			named = append(named, na)
			continue
		}
		positional = append(positional, a)
	}
	return positional, named
}
