// Package systest holds the black-box tests run against the application
// container. They need a docker daemon and the integration build tag:
//
//	PROJECT_VERSION=1.0.0 APPLICATION_DEPENDENCY_DIR_PATH=./target/app \
//		go test -tags integration ./systest/...
package systest
