// Package preview renders browser-viewable previews and thumbnails for
// staged images. RAW containers are served from their embedded previews
// when one is large enough; everything else is decoded and resized, with
// libvips preferred for its decode-time shrinking.
package preview
