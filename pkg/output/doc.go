/*
Package output writes the persisted artifacts of a sweep.

The pendulum sweep produces a flat CSV file (WriteCSV) with the header
theta1_init,theta2_init,theta1,theta2 and one row per grid point in grid order.

The beam sweep produces one SQLite database per partition (ArtifactWriter):

	metadata   key/value pairs (creation time, generator, bound, precision)
	aliases    name -> target for every aliased sub-computation
	<name>     one table per materialized sub-computation

Each sub-computation table has one INTEGER column per indexing variable, an
index on each of them, and the columns cache_key, value_f64, error_f64,
scale_factor_i8, value_str and error_str. Rows are stored once per distinct
cache key, ordered by their indices.

A sub-computation whose results equal another's is written as a view over
that table and recorded in aliases, so no row is stored twice and the
parent's indices serve both names. The writer checks that the view and its
target hold identical rows before committing.

Both writers are all-or-nothing: output goes to a temporary file that is
renamed over the target only after it is complete. Inputs that cannot form a
valid artifact (a missing alias target, duplicate keys, rows on an alias)
yield an *AssemblyError and nothing is written.
*/
package output
