// photostage is a photo ingest service. Uploads land in a staging area
// where metadata is extracted and previews are generated in the
// background; once reviewed, images are committed into permanent storage
// under templated paths and filenames.
package main
