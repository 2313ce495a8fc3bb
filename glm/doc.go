/*
Package glm fits generalized linear models with Gaussian and binomial
families by iteratively reweighted least squares.  It provides the least-squares and probit starting values
used when estimating selection models.
*/

package glm
