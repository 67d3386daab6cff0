// Package secrets resolves ${secret:name} references in credential
// configuration values.
//
// A Resolver asks its providers in order and caches what it finds. Env
// reads ADMISSION_SECRET_<NAME> variables; Dir reads one file per secret
// from a directory such as a mounted Kubernetes secret, and can watch it
// for rotation:
//
//	dir, err := secrets.OpenDir("/var/run/secrets/admission", logger)
//	if err != nil {
//	    return err
//	}
//	r := secrets.NewResolver(logger, secrets.Env{Prefix: "ADMISSION_SECRET_"}, dir)
//	token, err := r.Resolve(ctx, "${secret:admin-token}")
//
// Values without a reference are returned unchanged, so plain credentials
// keep working.
package secrets
