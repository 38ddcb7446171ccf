// Package parser splits database identifiers into their database, schema and
// object parts and derives the names of the tracking objects that shadow a
// synchronized table (tracking tables, triggers, stored procedures).
//
// A Name is immutable. Rendering options are applied to copies:
//
//	n := parser.Parse("[sales].[orders]")
//	n.String()                       // orders
//	n.WithSchema().Quoted().String() // "sales"."orders"
//	n.String()                       // orders
//
// Parsing results can be memoized with a Cache owned by a provider or a
// session.
package parser
