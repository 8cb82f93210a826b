/*
Package processor implements the document operations behind each job
kind. In-process transformations (compress, merge, split, rotate,
watermark, protect, unlock, compare, crop, redact, sign, repair, image
import) run on pdfcpu; format conversions shell out to LibreOffice,
wkhtmltopdf, ocrmypdf and pdftoppm under the job deadline. A Registry
maps kinds to processors and serves the static capability descriptors
for the info endpoints.
*/
package processor
