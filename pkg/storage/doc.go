/*
Package storage owns the on-disk layout for uploads, downloads and
temp files.

Directory shape:

	<root>/uploads/<tenant_id>/[<job_id>/]<uuid><ext>
	<root>/downloads/<tenant_id>/<job_id>/<output_filename>
	<root>/temp/<uuid><ext>

Every path handed to the service, for reads, writes and deletes alike,
is canonicalized (symlinks resolved, ".." collapsed) and asserted to be
a descendant of the storage root before any filesystem call. Content
types are detected from file bytes, never taken from the client.
*/
package storage
