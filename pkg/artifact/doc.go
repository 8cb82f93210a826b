/*
Package artifact finalizes completed jobs: processor output moves from
scratch space into the tenant's download area and the job row records
the artifact names, sizes, digests and result metadata in one
completion transition.
*/
package artifact
