// Package observation defines the device.observation record and the emitters
// that deliver it.
//
// An observation answers a command (correlated by request_id) or reports an
// unsolicited event from an event tool. ok=true means the error field is
// absent; ok=false means it is present. The result object is always encoded,
// with an empty assets array when a tool produced nothing.
//
// Building an observation:
//
//	b := observation.NewBuilder().SetRequestID("r-1")
//	b.AddAsset(observation.Asset{AssetID: "snap-1", Kind: "image", Mime: "image/jpeg", URL: "/last.jpg"})
//	b.Success("captured")
//	obs := b.Build()
//
// Relative asset URLs are resolved against the device's HTTP base when the
// observation is published:
//
//	patched := observation.PatchAssetURLs(obs, "http://10.0.0.5")
//	// patched.Result.Assets[0].URL == "http://10.0.0.5/last.jpg"
package observation
